package capture

import (
	"fmt"
)

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, rounded up
	maxBlockSize     = 4 * 1024 * 1024
)

// ringLayout is the geometry of an AF_PACKET TPACKET_V3 ring.
type ringLayout struct {
	frameSize int
	blockSize int
	numBlocks int
}

func (l ringLayout) String() string {
	return fmt.Sprintf("frame=%d block=%d blocks=%d total=%dKiB",
		l.frameSize, l.blockSize, l.numBlocks, l.blockSize*l.numBlocks/1024)
}

// computeRing sizes a ring of roughly bufferMB megabytes for frames of up to
// snapLen bytes. The kernel requires frameSize to be a multiple of
// TPACKET_ALIGNMENT and blockSize to be a page multiple holding at least one
// frame; the LCM of page and frame size is used when it fits in 4MB.
func computeRing(bufferMB, snapLen, pageSize int) (ringLayout, error) {
	if bufferMB <= 0 {
		return ringLayout{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return ringLayout{}, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ringLayout{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize := lcm(pageSize, frameSize)
	if blockSize < frameSize {
		blockSize = frameSize
	}
	if blockSize > maxBlockSize {
		// The LCM outgrew a sane block; fit as many frames as a 4MB block
		// allows and round up to a page.
		blockSize = alignUp((maxBlockSize/frameSize)*frameSize, pageSize)
		if blockSize < frameSize {
			blockSize = alignUp(frameSize, pageSize)
		}
	}

	numBlocks := bufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}

	return ringLayout{frameSize: frameSize, blockSize: blockSize, numBlocks: numBlocks}, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
