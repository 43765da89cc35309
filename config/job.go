package config

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"

	"github.com/wholesum/bazaar/model/job"
)

// LoadJobSpec reads a job specification file. The format follows the file
// extension (yaml, json or toml):
//
//	id: my-job
//	segments_base_cid: bafk...
//	segment_prefix: segment-
//	po2: 19
//	num_segments: 42
//	image_id: 0a1b...   # hex
//	budget: 100
func LoadJobSpec(path string) (job.Spec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("segment_prefix", "segment-")
	if err := v.ReadInConfig(); err != nil {
		return job.Spec{}, fmt.Errorf("could not read job file %s: %w", path, err)
	}

	imageID, err := hex.DecodeString(v.GetString("image_id"))
	if err != nil {
		return job.Spec{}, fmt.Errorf("invalid image id: %w", err)
	}
	po2 := v.GetUint("po2")
	if po2 > 255 {
		return job.Spec{}, fmt.Errorf("po2 %d out of range", po2)
	}
	spec := job.Spec{
		ID:              v.GetString("id"),
		SegmentsBaseCID: v.GetString("segments_base_cid"),
		SegmentPrefix:   v.GetString("segment_prefix"),
		Po2:             uint8(po2),
		NumSegments:     v.GetUint32("num_segments"),
		ImageID:         imageID,
		Budget:          v.GetUint32("budget"),
	}
	if err := spec.Validate(); err != nil {
		return job.Spec{}, fmt.Errorf("invalid job file %s: %w", path, err)
	}
	return spec, nil
}
