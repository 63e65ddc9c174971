// package fragments provides low-level encoding and decoding helpers
// to construct and parse DBus messages.
//
// The provided encoder and decoder are very low level, and do not
// enforce any DBus semantics beyond alignment and byte order. It is
// the caller's responsibility to produce valid DBus messages using
// these tools. Alignment is always computed relative to the start of
// the encoder's output or the decoder's input, which must coincide
// with the start of a message.
package fragments
