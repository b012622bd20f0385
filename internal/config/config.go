// Package config loads one run's configuration by merging flag defaults
// with an optional JSON config file, then validating the result against
// the embedded JSON schema (grounded on internal/config/config.go's
// Init pattern from the teacher).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/epics-modules/sdds-core/pkg/log"
	"github.com/epics-modules/sdds-core/pkg/nats"
	"github.com/epics-modules/sdds-core/pkg/schema"
)

// Keys is the run's effective configuration, populated by Init.
var Keys = Run{
	Unique:       false,
	LogLevel:     "info",
	Interval:     time.Second,
	PingInterval: 2 * time.Second,
	PingTimeout:  10 * time.Second,
	RolloverHour: 0,
}

// Run is every field any of the five entrypoints might consult; a given
// program only reads the subset relevant to it.
type Run struct {
	RequestFiles []string `json:"-"`
	Unique       bool     `json:"-"`
	OutputPath   string   `json:"-"`
	Description  string   `json:"-"`
	LogLevel     string   `json:"-"`

	ConnectTimeout time.Duration `json:"-"`
	PendIOTime     time.Duration `json:"-"`
	Interval       time.Duration `json:"-"`
	Deadline       time.Duration `json:"-"`
	StepLimit      int           `json:"-"`
	PingInterval   time.Duration `json:"-"`
	PingTimeout    time.Duration `json:"-"`

	DailyFiles          bool          `json:"-"`
	MonthlyFiles        bool          `json:"-"`
	RolloverHour        int           `json:"-"`
	GenerationRowLimit  int           `json:"-"`
	GenerationTimeLimit time.Duration `json:"-"`

	EnforceConnect bool   `json:"-"`
	WatchInput     bool   `json:"-"`
	StopChannel    string `json:"-"`
	InhibitChannel string `json:"-"`
	InhibitWait    time.Duration `json:"-"`

	ConditionsFile string `json:"-"`
	ConditionMode  string `json:"-"` // "allMustPass" or "oneMustPass"
	TouchOutput    bool   `json:"-"`
	RetakeStep     bool   `json:"-"`

	MonitorDefsFile string `json:"-"`
	BeforeCount     int    `json:"-"`
	AfterCount      int    `json:"-"`

	CompressOnRotation bool         `json:"-"`
	RemoteArchive      RemoteConfig `json:"-"`

	NATS       nats.NatsConfig  `json:"-"`
	Supervisor SupervisorConfig `json:"-"`

	StatusAddress  string `json:"-"`
	MetricsAddress string `json:"-"`
}

// RemoteConfig names the optional S3-compatible bucket that closed output
// files are uploaded to once rotated out (§4.7). A zero Bucket disables
// remote archiving entirely.
type RemoteConfig struct {
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

// SupervisorConfig names the NATS subjects used to reach the supervisor.
type SupervisorConfig struct {
	RunName      string `json:"runName"`
	PingSubject  string `json:"pingSubject"`
	InitSubject  string `json:"initSubject"`
	AbortSubject string `json:"abortSubject"`
}

// fileConfig is the JSON-facing shape of a config file: duration fields
// are plain strings here (encoding/json has no time.Duration support) and
// get parsed into Run's fields by Init.
type fileConfig struct {
	RequestFiles []string `json:"requestFiles"`
	Unique       bool     `json:"unique"`
	OutputPath   string   `json:"outputPath"`
	Description  string   `json:"description"`
	LogLevel     string   `json:"logLevel"`

	ConnectTimeout string `json:"connectTimeout"`
	PendIOTime     string `json:"pendIOTime"`
	Interval       string `json:"interval"`
	Deadline       string `json:"deadline"`
	StepLimit      int    `json:"stepLimit"`
	PingInterval   string `json:"pingInterval"`
	PingTimeout    string `json:"pingTimeout"`

	DailyFiles          bool   `json:"dailyFiles"`
	MonthlyFiles        bool   `json:"monthlyFiles"`
	RolloverHour        int    `json:"rolloverHour"`
	GenerationRowLimit  int    `json:"generationRowLimit"`
	GenerationTimeLimit string `json:"generationTimeLimit"`

	EnforceConnect bool   `json:"enforceConnect"`
	WatchInput     bool   `json:"watchInput"`
	StopChannel    string `json:"stopChannel"`
	InhibitChannel string `json:"inhibitChannel"`
	InhibitWait    string `json:"inhibitWait"`

	ConditionsFile string `json:"conditionsFile"`
	ConditionMode  string `json:"conditionMode"`
	TouchOutput    bool   `json:"touchOutput"`
	RetakeStep     bool   `json:"retakeStep"`

	MonitorDefsFile string `json:"monitorDefsFile"`
	BeforeCount     int    `json:"beforeCount"`
	AfterCount      int    `json:"afterCount"`

	CompressOnRotation bool         `json:"compressOnRotation"`
	RemoteArchive      RemoteConfig `json:"remoteArchive"`

	NATS       nats.NatsConfig  `json:"nats"`
	Supervisor SupervisorConfig `json:"supervisor"`

	StatusAddress  string `json:"statusAddress"`
	MetricsAddress string `json:"metricsAddress"`
}

// Init reads flagConfigFile (a no-op if it does not exist), validates it
// against the embedded schema, and merges it onto Keys's flag-supplied
// defaults.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", flagConfigFile, err)
	}

	if err := schema.Validate(schema.Config, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("config: validating %s: %w", flagConfigFile, err)
	}

	var fc fileConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("config: decoding %s: %w", flagConfigFile, err)
	}

	return mergeFileConfig(&Keys, fc)
}

func mergeFileConfig(k *Run, fc fileConfig) error {
	if len(fc.RequestFiles) > 0 {
		k.RequestFiles = fc.RequestFiles
	}
	k.Unique = k.Unique || fc.Unique
	if fc.OutputPath != "" {
		k.OutputPath = fc.OutputPath
	}
	if fc.Description != "" {
		k.Description = fc.Description
	}
	if fc.LogLevel != "" {
		k.LogLevel = fc.LogLevel
	}
	if fc.StepLimit != 0 {
		k.StepLimit = fc.StepLimit
	}
	k.DailyFiles = k.DailyFiles || fc.DailyFiles
	k.MonthlyFiles = k.MonthlyFiles || fc.MonthlyFiles
	if fc.RolloverHour != 0 {
		k.RolloverHour = fc.RolloverHour
	}
	if fc.GenerationRowLimit != 0 {
		k.GenerationRowLimit = fc.GenerationRowLimit
	}
	k.EnforceConnect = k.EnforceConnect || fc.EnforceConnect
	k.WatchInput = k.WatchInput || fc.WatchInput
	if fc.StopChannel != "" {
		k.StopChannel = fc.StopChannel
	}
	if fc.InhibitChannel != "" {
		k.InhibitChannel = fc.InhibitChannel
	}
	if fc.ConditionsFile != "" {
		k.ConditionsFile = fc.ConditionsFile
	}
	if fc.ConditionMode != "" {
		k.ConditionMode = fc.ConditionMode
	}
	k.TouchOutput = k.TouchOutput || fc.TouchOutput
	k.RetakeStep = k.RetakeStep || fc.RetakeStep
	if fc.MonitorDefsFile != "" {
		k.MonitorDefsFile = fc.MonitorDefsFile
	}
	if fc.BeforeCount != 0 {
		k.BeforeCount = fc.BeforeCount
	}
	if fc.AfterCount != 0 {
		k.AfterCount = fc.AfterCount
	}
	k.CompressOnRotation = k.CompressOnRotation || fc.CompressOnRotation
	if fc.RemoteArchive.Bucket != "" {
		k.RemoteArchive = fc.RemoteArchive
	}
	if fc.NATS.Address != "" {
		k.NATS = fc.NATS
	}
	if fc.Supervisor.RunName != "" {
		k.Supervisor = fc.Supervisor
	}
	if fc.StatusAddress != "" {
		k.StatusAddress = fc.StatusAddress
	}
	if fc.MetricsAddress != "" {
		k.MetricsAddress = fc.MetricsAddress
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"connectTimeout", fc.ConnectTimeout, &k.ConnectTimeout},
		{"pendIOTime", fc.PendIOTime, &k.PendIOTime},
		{"interval", fc.Interval, &k.Interval},
		{"deadline", fc.Deadline, &k.Deadline},
		{"pingInterval", fc.PingInterval, &k.PingInterval},
		{"pingTimeout", fc.PingTimeout, &k.PingTimeout},
		{"generationTimeLimit", fc.GenerationTimeLimit, &k.GenerationTimeLimit},
		{"inhibitWait", fc.InhibitWait, &k.InhibitWait},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("config: parsing %s=%q: %w", d.name, d.src, err)
		}
		*d.dst = parsed
	}

	log.SetLogLevel(k.LogLevel)
	return nil
}
