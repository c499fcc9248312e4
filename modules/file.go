package modules

import (
	"context"
	"os"
	"sync"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// FileReader outputs the contents of a text file. The read runs on the
// engine's background pool; Tick only polls for the latest completed result.
// A read is started on the first tick and on every "reload" trigger.
type FileReader struct {
	*element.Base

	mu      sync.Mutex
	started bool
	pending bool
	text    string
	readErr error
}

func fileReaderRegistration() element.Registration {
	return element.Registration{
		Type:        "file-reader",
		Category:    "io",
		Description: "Reads a text file without blocking the tick",
		Version:     "1.0.0",
		Inputs:      []element.PinSpec{{Name: "reload", Type: value.TypeTrigger}},
		Outputs:     []element.PinSpec{{Name: "text", Type: value.TypeText}},
		Properties: map[string]element.PropertySchema{
			"path": {Type: value.TypeText, Description: "file to read", Required: true},
		},
		Factory: func(b *element.Base) (element.Element, error) { return &FileReader{Base: b}, nil },
	}
}

// Tick schedules reads and outputs the latest text. A failed read faults the
// element until a later read succeeds.
func (f *FileReader) Tick(ctx *tick.Context) error {
	f.mu.Lock()
	start := (!f.started || f.In("reload").Fired()) && !f.pending && ctx.Background != nil
	if start {
		f.started = true
		f.pending = true
	}
	text, readErr := f.text, f.readErr
	f.mu.Unlock()

	if start {
		path := f.Text("path")
		err := ctx.Background.Submit(func(context.Context) error {
			data, err := os.ReadFile(path)
			f.mu.Lock()
			defer f.mu.Unlock()
			f.pending = false
			if err != nil {
				f.readErr = err
				return err
			}
			f.text, f.readErr = string(data), nil
			return nil
		})
		if err != nil {
			f.mu.Lock()
			f.pending, f.started = false, false
			f.mu.Unlock()
			return err
		}
	}

	if readErr != nil {
		return readErr
	}
	return f.Out("text", value.Text(text))
}
