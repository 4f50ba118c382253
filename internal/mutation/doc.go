// Package mutation defines the typed upstream mutation and its change log
// encoding.
//
// A producer calls Encode to obtain the header/payload pair it appends to the
// change log; the bridge calls Decode on every raw entry the reader hands it.
// Numeric operands (ttl seconds, scores, list indexes, bit offsets) travel as
// decimal ASCII so they can be forwarded to the downstream protocol verbatim.
// Decode checks them anyway: a record that would make the downstream store
// reject the command is reported as a *MalformedRecordError instead.
package mutation
