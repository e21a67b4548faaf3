package commit

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// onDiskLen is the number of bytes the on-disk subset of Superblock
// actually occupies; SBLen is the reserved slot, which may be larger to
// leave room for future fields without relocating SB_LOC.
const onDiskLen = MagicLen + 2 + 8*4 + 4*2 + 8*2 + 8 + 4

func init() {
	if onDiskLen > SBLen {
		panic("commit: on-disk superblock layout exceeds reserved SB_LEN")
	}
}

// encodeSB serializes the on-disk subset of sb into a SBLen-byte buffer,
// big-endian throughout.
func encodeSB(sb *Superblock) []byte {
	buf := make([]byte, SBLen)
	w := buf

	copy(w, magic[:])
	w = w[MagicLen:]

	binary.BigEndian.PutUint16(w, sb.Blockbits)
	w = w[2:]
	binary.BigEndian.PutUint64(w, sb.Volblocks)
	w = w[8:]
	binary.BigEndian.PutUint64(w, sb.Freeblocks)
	w = w[8:]
	binary.BigEndian.PutUint64(w, sb.Nextalloc)
	w = w[8:]
	binary.BigEndian.PutUint64(w, sb.Atomdictsize)
	w = w[8:]
	binary.BigEndian.PutUint32(w, sb.Atomgen)
	w = w[4:]
	binary.BigEndian.PutUint32(w, sb.Freeatom)
	w = w[4:]
	binary.BigEndian.PutUint64(w, sb.Iroot)
	w = w[8:]
	binary.BigEndian.PutUint64(w, sb.Oroot)
	w = w[8:]
	binary.BigEndian.PutUint64(w, sb.Logchain)
	w = w[8:]
	binary.BigEndian.PutUint32(w, sb.Logcount)

	return buf
}

// decodeSB validates the magic and populates the on-disk fields of sb from
// buf, which must be SBLen bytes (as read from SB_LOC).
func decodeSB(buf []byte, sb *Superblock) error {
	if len(buf) != SBLen {
		return fmt.Errorf("commit: superblock buffer is %d bytes, want %d", len(buf), SBLen)
	}

	if !bytes.Equal(buf[:MagicLen], magic[:]) {
		return fmt.Errorf("%w: superblock", ErrBadMagic)
	}

	r := buf[MagicLen:]

	sb.Blockbits = binary.BigEndian.Uint16(r)
	r = r[2:]
	sb.Volblocks = binary.BigEndian.Uint64(r)
	r = r[8:]
	sb.Freeblocks = binary.BigEndian.Uint64(r)
	r = r[8:]
	sb.Nextalloc = binary.BigEndian.Uint64(r)
	r = r[8:]
	sb.Atomdictsize = binary.BigEndian.Uint64(r)
	r = r[8:]
	sb.Atomgen = binary.BigEndian.Uint32(r)
	r = r[4:]
	sb.Freeatom = binary.BigEndian.Uint32(r)
	r = r[4:]
	sb.Iroot = binary.BigEndian.Uint64(r)
	r = r[8:]
	sb.Oroot = binary.BigEndian.Uint64(r)
	r = r[8:]
	sb.Logchain = binary.BigEndian.Uint64(r)
	r = r[8:]
	sb.Logcount = binary.BigEndian.Uint32(r)

	return nil
}

// SaveSB writes sb's on-disk fields to dev at SB_LOC. Block addressing is
// relative to dev's block size; SB_LOC/SB_LEN are byte offsets, so the
// write always targets block 0, the reserved superblock block, using a
// buffer padded to the device's block size.
func SaveSB(dev BlockDevice, sb *Superblock) error {
	buf := encodeSB(sb)

	block := make([]byte, dev.BlockSize())
	if len(buf) > len(block) {
		return fmt.Errorf("commit: superblock %d bytes exceeds block size %d", len(buf), len(block))
	}

	copy(block, buf)

	if err := dev.WriteBlock(0, block); err != nil {
		return fmt.Errorf("commit: save superblock: %w", err)
	}

	return nil
}

// LoadSB reads the superblock from dev's block 0, validates its magic, and
// returns a freshly initialized in-memory Superblock with the on-disk
// fields populated. Mismatched magic is fatal corruption (spec §7): the
// caller must refuse to mount.
func LoadSB(dev BlockDevice) (*Superblock, error) {
	if dev.BlockSize() < SBLen {
		return nil, fmt.Errorf("commit: load superblock: block size %d smaller than superblock size %d", dev.BlockSize(), SBLen)
	}

	block := make([]byte, dev.BlockSize())

	if err := dev.ReadBlock(0, block); err != nil {
		return nil, fmt.Errorf("commit: load superblock: %w", err)
	}

	sb := newSuperblock()

	if err := decodeSB(block[:SBLen], sb); err != nil {
		return nil, err
	}

	return sb, nil
}

// FormatSB initializes a brand-new superblock for an empty volume with the
// given geometry and writes it to dev. Delta, rollup, logchain, and
// logcount all start at their zero values.
func FormatSB(dev BlockDevice, volblocks uint64) (*Superblock, error) {
	blockbits := blockBitsFor(dev.BlockSize())

	sb := newSuperblock()
	sb.Blockbits = blockbits
	sb.Volblocks = volblocks
	sb.Freeblocks = volblocks - 1 // block 0 is reserved for the superblock

	// Block 0 never goes through Allocate (SaveSB addresses it directly),
	// so the allocator's bitmap must be told up front that it is taken;
	// otherwise a later Allocate call could hand block 0 out for a log or
	// leaf block and silently corrupt the superblock on the next commit.
	dev.MarkUsed(0, 1)

	if err := SaveSB(dev, sb); err != nil {
		return nil, err
	}

	return sb, nil
}

func blockBitsFor(blockSize int) uint16 {
	bits := uint16(0)

	for size := 1; size < blockSize; size <<= 1 {
		bits++
	}

	return bits
}
