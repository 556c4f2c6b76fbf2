package emu

import (
	"fmt"
	"io"

	"github.com/baremetal-go/satafs"
	"github.com/baremetal-go/satafs/errors"
)

// ImageDevice adapts a seekable image (a file, or an in-memory buffer) to
// the stack's block-device contract, so the filesystem layer can run against
// an image with no HBA in the path.
type ImageDevice struct {
	stream  io.ReadWriteSeeker
	sectors uint64
}

var _ satafs.BlockDevice = (*ImageDevice)(nil)

// NewImageDevice wraps a stream whose length must be a whole number of
// sectors.
func NewImageDevice(stream io.ReadWriteSeeker) (*ImageDevice, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if size%satafs.SectorSize != 0 {
		return nil, errors.ErrInvalidArgument.WithMessage(fmt.Sprintf(
			"image size %d is not a multiple of the sector size", size))
	}
	return &ImageDevice{stream: stream, sectors: uint64(size) / satafs.SectorSize}, nil
}

func (d *ImageDevice) SectorCount() uint64 {
	return d.sectors
}

func (d *ImageDevice) checkBounds(lba uint64, count uint32, buf []byte) error {
	if count == 0 {
		return errors.ErrInvalidArgument.WithMessage("sector count is zero")
	}
	if lba+uint64(count) > d.sectors {
		return errors.ErrArgumentOutOfRange.WithMessage(fmt.Sprintf(
			"sector range [%d, %d) extends past image end %d", lba, lba+uint64(count), d.sectors))
	}
	if len(buf) < int(count)*satafs.SectorSize {
		return errors.ErrInvalidArgument.WithMessage("buffer smaller than the transfer")
	}
	return nil
}

func (d *ImageDevice) ReadSectors(lba uint64, count uint32, buf []byte) error {
	if err := d.checkBounds(lba, count, buf); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(lba)*satafs.SectorSize, io.SeekStart); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	n := int(count) * satafs.SectorSize
	if _, err := io.ReadFull(d.stream, buf[:n]); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}

func (d *ImageDevice) WriteSectors(lba uint64, count uint32, buf []byte) error {
	if err := d.checkBounds(lba, count, buf); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(lba)*satafs.SectorSize, io.SeekStart); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	if _, err := d.stream.Write(buf[:int(count)*satafs.SectorSize]); err != nil {
		return errors.ErrIOFailed.WrapError(err)
	}
	return nil
}
