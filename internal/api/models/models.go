package models

import (
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/pipeline"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.23.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Source models
type SourceListData struct {
	Sources []frame.SourceHandle `json:"sources" doc:"Sources available for selection"`
	Count   int                  `json:"count" example:"4" doc:"Number of sources"`
}

type SourceListResponse struct {
	Body SourceListData
}

// ConnectRequestData selects a source by directory name or by raw address.
type ConnectRequestData struct {
	Name    string `json:"name,omitempty" example:"STUDIO (Program)" doc:"Source name from the directory"`
	Address string `json:"address,omitempty" example:"pattern://UYVY?w=1280&h=720" doc:"Source address, used when name is empty"`
	Quality string `json:"quality,omitempty" enum:"full,proxy" example:"full" doc:"Receive quality, defaults to the configured quality"`
}

type ConnectRequest struct {
	Body ConnectRequestData
}

// Status models
type StatusResponse struct {
	Body pipeline.Status
}

// SnapshotResponse carries the latest presented frame as JPEG.
type SnapshotResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	FrameSeq     uint64 `header:"X-Frame-Seq"`
	Body         []byte
}

// Log models
type LogsInput struct {
	Since uint64 `query:"since" doc:"Only return entries with a sequence number above this"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Buffered log entries, oldest first"`
	Count   int                `json:"count" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelRequest struct {
	Module string `path:"module" example:"capture" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New log level"`
	}
}

type LogLevelResponse struct {
	Body struct {
		Module string `json:"module" doc:"Logger module"`
		Level  string `json:"level" doc:"Level now in effect"`
	}
}
