package hcert

import (
	"fmt"
	"strings"

	"dccgate/internal/domain"
)

const base45Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

var base45Index = func() [256]int {
	var idx [256]int
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base45Alphabet); i++ {
		idx[base45Alphabet[i]] = i
	}
	return idx
}()

func EncodeBase45(in []byte) string {
	var sb strings.Builder
	sb.Grow((len(in)/2)*3 + 2)
	for i := 0; i+1 < len(in); i += 2 {
		n := int(in[i])<<8 | int(in[i+1])
		sb.WriteByte(base45Alphabet[n%45])
		n /= 45
		sb.WriteByte(base45Alphabet[n%45])
		sb.WriteByte(base45Alphabet[n/45])
	}
	if len(in)%2 == 1 {
		n := int(in[len(in)-1])
		sb.WriteByte(base45Alphabet[n%45])
		sb.WriteByte(base45Alphabet[n/45])
	}
	return sb.String()
}

func DecodeBase45(in string) ([]byte, error) {
	if len(in)%3 == 1 {
		return nil, fmt.Errorf("%w: base45 input has dangling symbol", domain.ErrDecode)
	}
	out := make([]byte, 0, (len(in)/3)*2+1)
	for i := 0; i < len(in); i += 3 {
		end := i + 3
		if end > len(in) {
			end = len(in)
		}
		n := 0
		mul := 1
		for j := i; j < end; j++ {
			v := base45Index[in[j]]
			if v < 0 {
				return nil, fmt.Errorf("%w: invalid base45 symbol %q at %d", domain.ErrDecode, in[j], j)
			}
			n += v * mul
			mul *= 45
		}
		if end-i == 3 {
			if n > 0xffff {
				return nil, fmt.Errorf("%w: base45 group overflow at %d", domain.ErrDecode, i)
			}
			out = append(out, byte(n>>8), byte(n))
			continue
		}
		if n > 0xff {
			return nil, fmt.Errorf("%w: base45 group overflow at %d", domain.ErrDecode, i)
		}
		out = append(out, byte(n))
	}
	return out, nil
}
