// Package asset supplies script sources to the lifecycle manager.
//
// A Source maps a script identifier to its bytes and a language tag
// derived from the identifier's extension. FileSource serves a directory
// and, once Watch is called, reports edited scripts on Changes so the host
// can reload them. MemorySource does the same for sources held in memory.
package asset
