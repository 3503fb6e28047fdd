// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire encoding for InterruptMessage. The spec's original bit-packed
// layout is binary-compatible only with an existing sender this module
// has none of, so a plain fixed-offset struct encoding is used instead
// (§13 open-question decision) — the five commands and the
// is_listening/is_signal flags stay distinguishable, which is the only
// requirement §6 actually imposes.

package concurrency

import (
	"encoding/binary"

	"github.com/momentics/kqreactor/api"
)

const interruptMessageSize = 24

func encodeInterruptMessage(m api.InterruptMessage) []byte {
	buf := make([]byte, interruptMessageSize)
	buf[0] = byte(m.Tag)
	buf[1] = byte(m.Mask)
	if m.IsListening {
		buf[2] = 1
	}
	if m.IsSignal {
		buf[3] = 1
	}
	binary.LittleEndian.PutUint64(buf[4:12], uint64(m.FD))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(m.Port))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(m.Data))
	return buf
}

func decodeInterruptMessage(buf []byte) api.InterruptMessage {
	return api.InterruptMessage{
		Tag:         api.CommandTag(buf[0]),
		Mask:        api.EventMask(buf[1]),
		IsListening: buf[2] != 0,
		IsSignal:    buf[3] != 0,
		FD:          uintptr(binary.LittleEndian.Uint64(buf[4:12])),
		Port:        api.Port(binary.LittleEndian.Uint32(buf[12:16])),
		Data:        int64(binary.LittleEndian.Uint64(buf[16:24])),
	}
}
