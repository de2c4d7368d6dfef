/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ikv

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the one-process-one-partition configuration surface: where the
// partition lives on disk, which store/partition it is, how to reach its
// Kafka topic, and where its base index lives in S3.
type Config struct {
	MountDirectory  string `yaml:"mount_directory"`
	StoreName       string `yaml:"store_name"`
	Partition       int    `yaml:"partition"`
	PrimaryKeyField string `yaml:"primary_key_field_name"`

	KafkaTopic           string `yaml:"kafka_topic"`
	KafkaBootstrapServer string `yaml:"kafka_bootstrap_server"`
	KafkaAccountID       string `yaml:"account_id"`
	KafkaAccountPasskey  string `yaml:"account_passkey"`

	BaseIndexS3Bucket string `yaml:"base_index_s3_bucket_name"`
	BaseIndexS3Region string `yaml:"base_index_s3_region"`
	BaseIndexS3Prefix string `yaml:"base_index_s3_prefix"`

	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads and validates a Config from a YAML file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.MountDirectory == "" {
		return ErrValidation("mount_directory is required")
	}
	if c.StoreName == "" {
		return ErrValidation("store_name is required")
	}
	if c.PrimaryKeyField == "" {
		return ErrValidation("primary_key_field_name is required")
	}
	return nil
}

// PartitionDir is the on-disk root for this config's partition:
// <mount>/<store>/<partition>/
func (c Config) PartitionDir() string {
	return c.MountDirectory + "/" + c.StoreName + "/" + strconv.Itoa(c.Partition)
}

// ErrValidation builds a validation error carrying a human-readable message;
// kept distinct from the sentinel errors in errors.go since these carry
// caller-supplied, non-constant detail.
type ErrValidation string

func (e ErrValidation) Error() string { return "ikv: " + string(e) }
