package encode

import (
	"fmt"

	"github.com/smazurov/screencast/internal/capture"
)

// Converter prepares a captured frame for the codec.
type Converter interface {
	Convert(frame *capture.Frame) (*capture.Frame, error)
}

// StrideConverter removes row padding so rows are packed back to back, which
// is what the codec process reads. Colour conversion is left to the codec's
// scaler.
type StrideConverter struct{}

// Convert returns frame unchanged when it is already packed, otherwise a
// packed copy.
func (StrideConverter) Convert(frame *capture.Frame) (*capture.Frame, error) {
	bpp, err := frame.Format.BytesPerPixel()
	if err != nil {
		return nil, err
	}

	row := frame.Width * bpp
	pitch := frame.Pitch
	if pitch == 0 {
		pitch = row
	}
	if pitch < row {
		return nil, fmt.Errorf("pitch %d shorter than row %d", pitch, row)
	}
	if frame.Height <= 0 {
		return nil, fmt.Errorf("invalid frame height %d", frame.Height)
	}

	need := pitch*(frame.Height-1) + row
	if len(frame.Data) < need {
		return nil, fmt.Errorf("frame data %d bytes, need %d", len(frame.Data), need)
	}

	if pitch == row {
		if len(frame.Data) == row*frame.Height {
			return frame, nil
		}
		packed := *frame
		packed.Data = frame.Data[:row*frame.Height]
		packed.Pitch = row
		return &packed, nil
	}

	data := make([]byte, row*frame.Height)
	for y := 0; y < frame.Height; y++ {
		copy(data[y*row:(y+1)*row], frame.Data[y*pitch:y*pitch+row])
	}

	packed := *frame
	packed.Data = data
	packed.Pitch = row
	return &packed, nil
}
