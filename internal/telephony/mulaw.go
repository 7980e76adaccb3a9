package telephony

// G.711 mu-law codec plus the rate conversions the phone leg needs. Twilio
// media streams carry 8kHz mu-law in both directions; the pipeline consumes
// 16kHz PCM from the caller and produces 48kHz PCM for playback.

const (
	mulawBias = 0x84
	mulawClip = 32635
)

func encodeMulawSample(s int16) byte {
	v := int32(s)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias
	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

func decodeMulawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	v := (int32(mantissa)<<3 + mulawBias) << exponent
	v -= mulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// DecodeMulawTo16k decodes 8kHz mu-law and doubles the rate by linear
// interpolation, returning 16kHz PCM16LE.
func DecodeMulawTo16k(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return nil
	}
	out := make([]byte, len(mulaw)*4)
	prev := decodeMulawSample(mulaw[0])
	for i, b := range mulaw {
		cur := decodeMulawSample(b)
		mid := int16((int32(prev) + int32(cur)) / 2)
		putSample(out, i*2, mid)
		putSample(out, i*2+1, cur)
		prev = cur
	}
	return out
}

func putSample(dst []byte, idx int, s int16) {
	dst[2*idx] = byte(s)
	dst[2*idx+1] = byte(uint16(s) >> 8)
}

// downEncoder converts 48kHz PCM16LE to 8kHz mu-law, carrying partial sample
// groups across calls. Each output sample is the mean of 6 input samples,
// which doubles as a crude anti-alias filter.
type downEncoder struct {
	acc   int32
	count int
}

func (d *downEncoder) Encode(pcm48k []byte) []byte {
	out := make([]byte, 0, len(pcm48k)/12+1)
	for i := 0; i+1 < len(pcm48k); i += 2 {
		s := int16(uint16(pcm48k[i]) | uint16(pcm48k[i+1])<<8)
		d.acc += int32(s)
		d.count++
		if d.count == 6 {
			out = append(out, encodeMulawSample(int16(d.acc/6)))
			d.acc = 0
			d.count = 0
		}
	}
	return out
}

func (d *downEncoder) Reset() {
	d.acc = 0
	d.count = 0
}
