package tensorio

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// saveJSON saves a tensor in JSON format
func saveJSON(t *Tensor, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create tensor file")
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(t); err != nil {
		return errors.Wrap(err, "failed to encode tensor")
	}
	return file.Close()
}

// loadJSON loads a tensor from JSON format
func loadJSON(path string) (*Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open tensor file")
	}
	defer file.Close()

	var t Tensor
	if err := json.NewDecoder(file).Decode(&t); err != nil {
		return nil, errors.Wrapf(ErrMalformedTensor, "failed to decode %s: %v", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return &t, nil
}
