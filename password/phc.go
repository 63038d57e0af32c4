package password

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phc{}, fmt.Errorf("%w: expected 6 PHC segments", ErrMalformedHash)
	}
	if parts[1] != algorithmID {
		return phc{}, fmt.Errorf("%w: %q", ErrUnsupportedHash, parts[1])
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return phc{}, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return phc{}, fmt.Errorf("%w: argon2 version %q", ErrUnsupportedHash, version)
	}

	out, err := parseCost(parts[3])
	if err != nil {
		return phc{}, err
	}

	if out.salt, err = decodeSegment(parts[4]); err != nil || len(out.salt) < int(minSaltLength) {
		return phc{}, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if out.hash, err = decodeSegment(parts[5]); err != nil || len(out.hash) == 0 {
		return phc{}, fmt.Errorf("%w: hash", ErrMalformedHash)
	}
	return out, nil
}

func parseCost(segment string) (phc, error) {
	var (
		out  phc
		seen = map[string]bool{}
	)
	for _, pair := range strings.Split(segment, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || seen[k] {
			return phc{}, fmt.Errorf("%w: parameter %q", ErrMalformedHash, pair)
		}
		seen[k] = true

		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return phc{}, fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			out.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return phc{}, fmt.Errorf("%w: time", ErrMalformedHash)
			}
			out.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return phc{}, fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			out.parallelism = uint8(n)
		default:
			return phc{}, fmt.Errorf("%w: parameter %q", ErrMalformedHash, k)
		}
	}
	if !seen["m"] || !seen["t"] || !seen["p"] {
		return phc{}, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return out, nil
}

// decodeSegment accepts both unpadded (PHC) and padded base64.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
