// Package lifecycle loads, reloads and unloads scripts attached to world
// entities.
//
// Every attachment runs a small state machine:
//
//	unloaded -> loading_initialized -> context_assigned -> loaded
//	loaded -> reloading_initialized -> context_assigned -> loaded
//	loaded -> unloading_initialized -> context_removed | resident_removed -> unloaded
//
// An Assigner maps attachments to contexts; attachments with the same key
// share one runtime scope, and a context is closed when its last resident
// leaves. Inputs queue until Tick, which applies them in order under the
// whole-world claim. Scripts are told about transitions through the
// on_script_loaded, on_script_unloaded and on_script_reloaded callbacks;
// whatever on_script_unloaded returns is passed to on_script_reloaded.
//
// Failures never abort a batch. A failed load leaves the attachment
// unloaded, a failed reload leaves the previous version running, and both
// are reported through Errors and any Listener.
package lifecycle
