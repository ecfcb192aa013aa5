package assetwriter

import (
	"io"

	"github.com/abema/go-mp4"
)

type mp4Writer struct {
	w *mp4.Writer
}

func newMP4Writer(w io.WriteSeeker) *mp4Writer {
	return &mp4Writer{
		w: mp4.NewWriter(w),
	}
}

func (w *mp4Writer) offset() (int64, error) {
	return w.w.Seek(0, io.SeekCurrent)
}

func (w *mp4Writer) writeBoxStart(box mp4.IImmutableBox) (int, error) {
	bi, err := w.w.StartBox(&mp4.BoxInfo{
		Type: box.GetType(),
	})
	if err != nil {
		return 0, err
	}

	_, err = mp4.Marshal(w.w, box, mp4.Context{})
	if err != nil {
		return 0, err
	}

	return int(bi.Offset), nil
}

func (w *mp4Writer) writeLargeBoxStart(box mp4.IImmutableBox) (int, error) {
	bi, err := w.w.StartBox(&mp4.BoxInfo{
		Type:       box.GetType(),
		HeaderSize: mp4.LargeHeaderSize,
	})
	if err != nil {
		return 0, err
	}

	_, err = mp4.Marshal(w.w, box, mp4.Context{})
	if err != nil {
		return 0, err
	}

	return int(bi.Offset), nil
}

func (w *mp4Writer) writeBoxEnd() error {
	_, err := w.w.EndBox()
	return err
}

func (w *mp4Writer) writeBox(box mp4.IImmutableBox) (int, error) {
	off, err := w.writeBoxStart(box)
	if err != nil {
		return 0, err
	}

	err = w.writeBoxEnd()
	if err != nil {
		return 0, err
	}

	return off, nil
}

func (w *mp4Writer) writeRaw(p []byte) error {
	_, err := w.w.Write(p)
	return err
}
