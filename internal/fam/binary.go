package fam

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Binary layout of the FAM blob the build engine produces and the Observer
// mmaps read-only at init. All integers are little-endian.
//
//	magic      [4]byte  "FAM1"
//	version    uint32
//	rootPID    uint32
//	defaultDec uint8, pad [3]byte
//	ruleCount, allowCount, stripCount, injectCount uint32
//	channelOff, channelLen uint32
//	rules[ruleCount]      { prefixOff, prefixLen uint32; read, write, create, enum, breakaway uint8; pad[3]byte }
//	allowlist[allowCount] { nameOff, nameLen uint32 }
//	strip[stripCount]     { nameOff, nameLen uint32 }
//	inject[injectCount]   { keyOff, keyLen, valOff, valLen uint32 }
//	stringTable           []byte (referenced by all Off/Len pairs above)
const (
	famMagic        = "FAM1"
	famVersion      = 1
	magicSize       = 4
	headerRestSize  = 4 + 4 + 1 + 3 + 4*4 + 4 + 4 // everything after the magic
	headerFixedSize = magicSize + headerRestSize
	ruleRecordSize  = 4 + 4 + 1*5 + 3
	pairRecordSize  = 4 + 4
	quadRecordSize  = 4 * 4
)

// Decode parses a FAM blob previously produced by Encode (or the build
// engine's policy compiler, once one exists). Each string referenced from
// the string table is copied into a Go string; the returned File does not
// keep a reference to data.
func Decode(data []byte) (*File, error) {
	if len(data) < headerFixedSize || string(data[:4]) != famMagic {
		return nil, fmt.Errorf("fam: not a FAM blob (bad magic)")
	}
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil {
		return nil, err
	}

	var version, rootPID uint32
	var defaultDec uint8
	var pad [3]byte
	var ruleCount, allowCount, stripCount, injectCount uint32
	var channelOff, channelLen uint32

	for _, f := range []any{&version, &rootPID, &defaultDec, &pad, &ruleCount, &allowCount, &stripCount, &injectCount, &channelOff, &channelLen} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("fam: decode header: %w", err)
		}
	}
	if version != famVersion {
		return nil, fmt.Errorf("fam: unsupported version %d", version)
	}

	offset := headerFixedSize
	stringTableStart := offset + int(ruleCount)*ruleRecordSize +
		int(allowCount)*pairRecordSize + int(stripCount)*pairRecordSize + int(injectCount)*quadRecordSize
	if stringTableStart > len(data) {
		return nil, fmt.Errorf("fam: truncated blob")
	}
	strTab := data[stringTableStart:]
	str := func(off, n uint32) (string, error) {
		if uint64(off)+uint64(n) > uint64(len(strTab)) {
			return "", fmt.Errorf("fam: string reference out of range")
		}
		return string(strTab[off : off+n]), nil
	}

	f := &File{RootPID: rootPID, DefaultDecision: Decision(defaultDec)}
	var err error
	if f.ChannelPath, err = str(channelOff, channelLen); err != nil {
		return nil, err
	}

	f.Rules = make([]Rule, ruleCount)
	for i := range f.Rules {
		var prefixOff, prefixLen uint32
		var read, write, create, enum, breakaway uint8
		var rpad [3]byte
		for _, field := range []any{&prefixOff, &prefixLen, &read, &write, &create, &enum, &breakaway, &rpad} {
			if err := binary.Read(r, binary.LittleEndian, field); err != nil {
				return nil, fmt.Errorf("fam: decode rule %d: %w", i, err)
			}
		}
		prefix, err := str(prefixOff, prefixLen)
		if err != nil {
			return nil, err
		}
		f.Rules[i] = Rule{
			ID:        fmt.Sprintf("rule-%d", i),
			Prefix:    prefix,
			Read:      Decision(read),
			Write:     Decision(write),
			Create:    Decision(create),
			Enumerate: Decision(enum),
			Breakaway: breakaway != 0,
		}
	}

	f.ExecAllowlist, err = decodeStringList(r, int(allowCount), str)
	if err != nil {
		return nil, err
	}
	f.EnvStrip, err = decodeStringList(r, int(stripCount), str)
	if err != nil {
		return nil, err
	}

	f.EnvInject = make([]EnvInject, injectCount)
	for i := range f.EnvInject {
		var keyOff, keyLen, valOff, valLen uint32
		for _, field := range []any{&keyOff, &keyLen, &valOff, &valLen} {
			if err := binary.Read(r, binary.LittleEndian, field); err != nil {
				return nil, fmt.Errorf("fam: decode env inject %d: %w", i, err)
			}
		}
		key, err := str(keyOff, keyLen)
		if err != nil {
			return nil, err
		}
		val, err := str(valOff, valLen)
		if err != nil {
			return nil, err
		}
		f.EnvInject[i] = EnvInject{Key: key, Value: val}
	}

	f.compile()
	return f, nil
}

func decodeStringList(r *bytes.Reader, n int, str func(off, l uint32) (string, error)) ([]string, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		var off, l uint32
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, err
		}
		s, err := str(off, l)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Encode serializes f into the binary format Decode reads. Used by tests to
// build fixtures without hand-computing string-table offsets.
func Encode(f *File) ([]byte, error) {
	var strs []byte
	intern := func(s string) (uint32, uint32) {
		off := uint32(len(strs))
		strs = append(strs, s...)
		return off, uint32(len(s))
	}

	var body bytes.Buffer
	channelOff, channelLen := intern(f.ChannelPath)

	header := struct {
		Version, RootPID                              uint32
		DefaultDec                                     uint8
		Pad                                            [3]byte
		RuleCount, AllowCount, StripCount, InjectCount uint32
		ChannelOff, ChannelLen                         uint32
	}{
		Version: famVersion, RootPID: f.RootPID, DefaultDec: uint8(f.DefaultDecision),
		RuleCount: uint32(len(f.Rules)), AllowCount: uint32(len(f.ExecAllowlist)),
		StripCount: uint32(len(f.EnvStrip)), InjectCount: uint32(len(f.EnvInject)),
		ChannelOff: channelOff, ChannelLen: channelLen,
	}

	var ruleBuf bytes.Buffer
	for _, rule := range f.Rules {
		off, l := intern(rule.Prefix)
		rec := struct {
			PrefixOff, PrefixLen                               uint32
			Read, Write, Create, Enum, Breakaway uint8
			Pad                                  [3]byte
		}{
			PrefixOff: off, PrefixLen: l,
			Read: uint8(rule.Read), Write: uint8(rule.Write),
			Create: uint8(rule.Create), Enum: uint8(rule.Enumerate),
		}
		if rule.Breakaway {
			rec.Breakaway = 1
		}
		if err := binary.Write(&ruleBuf, binary.LittleEndian, rec); err != nil {
			return nil, err
		}
	}

	encodeList := func(names []string) ([]byte, error) {
		var buf bytes.Buffer
		for _, n := range names {
			off, l := intern(n)
			if err := binary.Write(&buf, binary.LittleEndian, [2]uint32{off, l}); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	}
	allowBuf, err := encodeList(f.ExecAllowlist)
	if err != nil {
		return nil, err
	}
	stripBuf, err := encodeList(f.EnvStrip)
	if err != nil {
		return nil, err
	}

	var injectBuf bytes.Buffer
	for _, e := range f.EnvInject {
		ko, kl := intern(e.Key)
		vo, vl := intern(e.Value)
		if err := binary.Write(&injectBuf, binary.LittleEndian, [4]uint32{ko, kl, vo, vl}); err != nil {
			return nil, err
		}
	}

	body.WriteString(famMagic)
	if err := binary.Write(&body, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	body.Write(ruleBuf.Bytes())
	body.Write(allowBuf)
	body.Write(stripBuf)
	body.Write(injectBuf.Bytes())
	body.Write(strs)

	return body.Bytes(), nil
}
