package index

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type FieldInfo struct {
	Type        FieldType `json:"type"`
	Stored      bool      `json:"stored,omitempty"`
	Indexed     bool      `json:"indexed,omitempty"`
	HasLengths  bool      `json:"hasLengths,omitempty"`
	HasPoints   bool      `json:"hasPoints,omitempty"`
	DocCount    uint32    `json:"docCount,omitempty"`
	SumTermFreq uint64    `json:"sumTermFreq,omitempty"`
}

type segmentMeta struct {
	MaxDoc      uint32                `json:"maxDoc"`
	Compression Compression           `json:"compression"`
	Nested      bool                  `json:"nested,omitempty"`
	Fields      map[string]*FieldInfo `json:"fields"`
}

func (meta *segmentMeta) field(name string) *FieldInfo {
	if meta.Fields == nil {
		meta.Fields = make(map[string]*FieldInfo)
	}

	info, exists := meta.Fields[name]
	if !exists {
		info = &FieldInfo{}
		meta.Fields[name] = info
	}

	return info
}

func metaPath(directory, segmentId string) string {
	return filepath.Join(directory, "segment."+segmentId+".meta")
}

func writeSegmentMeta(directory, segmentId string, meta *segmentMeta) error {
	file, err := createFile(metaPath(directory, segmentId))
	if err != nil {
		return err
	}

	if err := json.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		return err
	}

	return file.Close()
}

func readSegmentMeta(directory, segmentId string) (*segmentMeta, error) {
	file, err := os.Open(metaPath(directory, segmentId))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var meta segmentMeta
	if err := json.NewDecoder(file).Decode(&meta); err != nil {
		return nil, err
	}

	if meta.Fields == nil {
		meta.Fields = make(map[string]*FieldInfo)
	}

	return &meta, nil
}
