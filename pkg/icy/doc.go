// Package icy implements the ICY (Icecast/SHOUTcast) metadata framing.
//
// An ICY stream carries metaint bytes of audio, one length byte, and
// length*16 bytes of metadata text, repeated for the life of the stream.
// Reader and Demuxer strip the metadata from an inbound stream, Writer
// injects it into an outbound one, and Parse/EncodeBlock convert between the
// raw blocks and the ordered Metadata type.
//
// Both directions are built on Accumulator, which splits arbitrarily sized
// chunks at exact byte boundaries.
package icy
