// Package demux bridges a synchronous, blocking container-parsing library
// (consumed only through the [Parser] interface — never implemented here)
// into the engine's async source layer, and computes the RFC 6381 codec
// strings the video and audio decoders need to configure hardware/software
// backends.
//
// [Bridge] is the central type: it drives the parser's blocking calls one
// at a time behind a single in-flight slot with a force-release watchdog;
// it does not park continuations for parser callbacks. Codec-specific bitstream parsing
// ([ParseSPS], [ParseHEVCSPS], [ParseAnnexB] and friends) is adapted from
// the teacher's MPEG-TS demuxer and generalized to feed the Video Decoder's
// codec-string computation regardless of which container produced the
// extradata.
package demux
