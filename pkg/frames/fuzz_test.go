package frames

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	chademo "github.com/samsamfire/gochademo"
	"github.com/stretchr/testify/assert"
)

var knownIDs = []uint32{0x100, 0x101, 0x102, 0x108, 0x109, 0x200, 0x208, 0x209}

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// newFuzzRng logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if parsed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = parsed
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// A successful decode always re-encodes to the exact same payload
func checkDecode(t *testing.T, codec *Codec, f chademo.Frame) {
	msg, err := codec.Decode(f)
	if err != nil {
		assert.True(t, errors.Is(err, ErrUnknownIdentifier) || errors.Is(err, ErrMalformedPayload), "unexpected error %v", err)
		assert.Nil(t, msg)
		return
	}
	encoded := Encode(msg)
	assert.Equal(t, f.ID, encoded.ID)
	assert.Equal(t, f.Data, encoded.Data)
}

func TestFuzzDecodeRandomPayloads(t *testing.T) {
	codec := NewCodec()
	rng := newFuzzRng(t)
	for i := 0; i < getFuzzRounds(); i++ {
		f := chademo.Frame{DLC: FrameDLC}
		switch rng.Intn(4) {
		case 0:
			f.ID = rng.Uint32()
			f.DLC = uint8(rng.Intn(16))
		default:
			f.ID = knownIDs[rng.Intn(len(knownIDs))]
		}
		rng.Read(f.Data[:])
		// Sparse payloads pass reserved checks more often
		if rng.Intn(2) == 0 {
			for j := range f.Data {
				if rng.Intn(3) == 0 {
					f.Data[j] = 0
				}
			}
		}
		checkDecode(t, codec, f)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add(uint32(0x102), uint8(8), []byte{0x02, 0x9A, 0x01, 0x0E, 0x00, 0xC1, 0x56, 0x00})
	f.Add(uint32(0x109), uint8(8), []byte{0x02, 0x00, 0x00, 0x00, 0x01, 0x20, 0x00, 0x00})
	f.Add(uint32(0x208), uint8(8), []byte{0xFE, 0xF4, 0x01, 0xEF, 0x00, 0x00, 0xFA, 0x00})
	codec := NewCodec()
	f.Fuzz(func(t *testing.T, id uint32, dlc uint8, data []byte) {
		fr := chademo.Frame{ID: id, DLC: dlc}
		copy(fr.Data[:], data)
		checkDecode(t, codec, fr)
	})
}
