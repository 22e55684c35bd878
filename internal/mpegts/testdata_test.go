package mpegts

import "encoding/binary"

// buildPAT constructs a valid PAT section with a correct trailing CRC32, for
// feeding parsePATSection/parsePSI/the full Demuxer in tests.
func buildPAT(tsID uint16, programs []struct{ num, pid uint16 }) []byte {
	entryLen := len(programs) * 4
	sectionLength := 5 + entryLen + 4

	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPAT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(tsID >> 8)
	data[4] = byte(tsID)
	data[5] = 0xC1
	data[6] = 0x00
	data[7] = 0x00

	offset := 8
	for _, p := range programs {
		data[offset] = byte(p.num >> 8)
		data[offset+1] = byte(p.num)
		data[offset+2] = 0xE0 | byte(p.pid>>8)&0x1F
		data[offset+3] = byte(p.pid)
		offset += 4
	}

	crc := computeCRC32(data[:offset])
	binary.BigEndian.PutUint32(data[offset:], crc)
	return data
}

// buildPMT constructs a valid PMT section with a correct trailing CRC32.
func buildPMT(programNum uint16, pcrPID uint16, streams []struct {
	streamType uint8
	pid        uint16
}) []byte {
	esLen := len(streams) * 5
	sectionLength := 9 + esLen + 4

	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPMT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(programNum >> 8)
	data[4] = byte(programNum)
	data[5] = 0xC1
	data[6] = 0x00
	data[7] = 0x00
	data[8] = 0xE0 | byte(pcrPID>>8)&0x1F
	data[9] = byte(pcrPID)
	data[10] = 0xF0
	data[11] = 0x00

	offset := 12
	for _, s := range streams {
		data[offset] = s.streamType
		data[offset+1] = 0xE0 | byte(s.pid>>8)&0x1F
		data[offset+2] = byte(s.pid)
		data[offset+3] = 0xF0
		data[offset+4] = 0x00
		offset += 5
	}

	crc := computeCRC32(data[:offset])
	binary.BigEndian.PutUint32(data[offset:], crc)
	return data
}

// encodePTS encodes a 33-bit PTS/DTS value into 5 bytes with marker bits.
func encodePTS(marker byte, value int64) []byte {
	bs := make([]byte, 5)
	bs[0] = marker<<4 | byte((value>>29)&0x0E) | 0x01
	bs[1] = byte(value >> 22)
	bs[2] = byte((value>>14)&0xFE) | 0x01
	bs[3] = byte(value >> 7)
	bs[4] = byte((value<<1)&0xFE) | 0x01
	return bs
}

// buildPESPacket constructs a PES packet with optional PTS/DTS, for
// feeding parsePES/the full Demuxer in tests.
func buildPESPacket(streamID byte, pts, dts int64, hasPTS, hasDTS bool, data []byte) []byte {
	var optHeader []byte
	ptsDTSIndicator := byte(0)
	if hasPTS && hasDTS {
		ptsDTSIndicator = 3
		optHeader = append(optHeader, encodePTS(0x03, pts)...)
		optHeader = append(optHeader, encodePTS(0x01, dts)...)
	} else if hasPTS {
		ptsDTSIndicator = 2
		optHeader = append(optHeader, encodePTS(0x02, pts)...)
	}

	headerDataLen := len(optHeader)
	totalLen := 3 + headerDataLen + len(data)
	packetLength := totalLen
	if streamID == 0xE0 {
		packetLength = 0 // video: unbounded
	}

	buf := make([]byte, 0, 6+3+headerDataLen+len(data))
	buf = append(buf, 0x00, 0x00, 0x01)
	buf = append(buf, streamID)
	buf = append(buf, byte(packetLength>>8), byte(packetLength))
	buf = append(buf, 0x80)
	buf = append(buf, ptsDTSIndicator<<6)
	buf = append(buf, byte(headerDataLen))
	buf = append(buf, optHeader...)
	buf = append(buf, data...)
	return buf
}
