// Package wire encodes replication batches.
//
// A batch is a 12 byte header followed by fixed 44 byte object records, all
// little-endian without padding:
//
//	header: serverTimeMillis int32 | senderID int16 | frameIndex int32 | count int16
//	record: objectID int32 | position 3×float32 | velocity 3×float32 | rotation 4×float32 (x y z w)
//
// Interaction commands, when present, follow the records as a msgpack array.
// A batch without commands is byte-compatible with peers that do not know
// about them.
package wire
