// Copyright 2024 ViewFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// ConfigModel represents the config table
type ConfigModel struct {
	bun.BaseModel `bun:"table:config"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// MountModel represents the mounts table
type MountModel struct {
	bun.BaseModel `bun:"table:mounts"`

	ID        int64  `bun:"id,pk,autoincrement"`
	Source    string `bun:"source,notnull,unique"`
	Nfly      string `bun:"nfly,nullzero"`
	CreatedAt int64  `bun:"created_at,notnull"` // Unix timestamp

	Targets []*MountTargetModel `bun:"rel:has-many,join:id=mount_id"`
}

// MountTargetModel represents the mount_targets table
type MountTargetModel struct {
	bun.BaseModel `bun:"table:mount_targets"`

	MountID  int64  `bun:"mount_id,pk"`
	Position int    `bun:"position,pk"`
	URI      string `bun:"uri,notnull"`
}

// MountRecord is a stored mount point
type MountRecord struct {
	Source    string
	Targets   []string
	Nfly      string // merge settings for multi-target mounts, empty otherwise
	CreatedAt time.Time
}

// ToMountRecord converts a MountModel with its targets loaded
func (m *MountModel) ToMountRecord() *MountRecord {
	targets := make([]string, len(m.Targets))
	for _, t := range m.Targets {
		if t.Position >= 0 && t.Position < len(targets) {
			targets[t.Position] = t.URI
		}
	}
	return &MountRecord{
		Source:    m.Source,
		Targets:   targets,
		Nfly:      m.Nfly,
		CreatedAt: time.Unix(m.CreatedAt, 0),
	}
}
