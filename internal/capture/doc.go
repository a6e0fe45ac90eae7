// Package capture records link traffic to JSON Lines files for offline
// analysis and replays it back as a byte stream.
//
// Each line holds one envelope: arrival time, direction, robot id, topic,
// the inner frame as hex and, when decoding succeeded, the decoded message.
// Files are named capture-YYYYMMDD-HHMMSS.jsonl.
package capture
