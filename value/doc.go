// Package value defines the universal script value and its conversions.
//
// A Value is one of a closed set of kinds: unit, bool, integer, float,
// string, list, map, reference, function and error. Host values convert
// into Values with Into and IntoWith and back with From and As.
//
// Values read out of the world follow one rule, implemented by FromReflect:
// primitive leaves are copied and everything else is handed out as a
// Reference, so a script that mutates a nested container mutates the host's
// copy rather than a detached one.
package value
