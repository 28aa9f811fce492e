package maps

import (
	"github.com/mitchellh/mapstructure"
)

// Map2Struct decodes a configuration map into a typed struct, honoring json
// field tags.
func Map2Struct(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           output,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Copy merges src into dst, overwriting existing keys.
func Copy(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
