package apiclient

// JobKind is the tagged variant the compute job dispatches on, replacing a
// bare string switch over job_type.
type JobKind string

const (
	KindGenerateKraus  JobKind = "generate_kraus"
	KindGenerateVector JobKind = "generate_vector"
	KindMinimize       JobKind = "minimize"
)

// Job is one unit of work handed out by the job server. It is immutable
// after fetch until the Job Runner completes or cancels it.
type Job struct {
	ID     int64   `json:"job_id"`
	Kind   JobKind `json:"job_type"`
	Status string  `json:"job_status"`

	// Present only for Minimize.
	KrausFileID  string `json:"kraus_file_id,omitempty"`
	VectorFileID string `json:"vector_file_id,omitempty"`

	// job-type-specific payload.
	ChannelID       int64 `json:"channel_id,omitempty"`
	NumberKraus     int   `json:"number_kraus,omitempty"`
	InputDimension  int   `json:"input_dimension,omitempty"`
	OutputDimension int   `json:"output_dimension,omitempty"`
}

// FileType is the file_type tag the upload/download protocol uses to
// distinguish artifact payloads.
type FileType string

const (
	Kraus  FileType = "kraus"
	Vector FileType = "vector"
)

// UploadFileType returns the file_type tag the upload protocol expects for
// this job's produced artifact.
func (j Job) UploadFileType() FileType {
	if j.Kind == KindGenerateKraus {
		return Kraus
	}
	return Vector
}

// rawJob mirrors the server's wire shape, which nests type-specific fields
// under job_data and spells file ids differently than our tagged Job.
type rawJob struct {
	JobID     int64   `json:"job_id"`
	JobType   JobKind `json:"job_type"`
	JobStatus string  `json:"job_status"`
	KrausID   *string `json:"kraus_id"`
	VectorID  *string `json:"vector_id"`
	JobData  struct {
		ChannelID       int64 `json:"channel_id"`
		NumberKraus     int   `json:"number_kraus"`
		InputDimension  int   `json:"input_dimension"`
		OutputDimension int   `json:"output_dimension"`
	} `json:"job_data"`
}

func (r rawJob) toJob() Job {
	j := Job{
		ID:              r.JobID,
		Kind:            r.JobType,
		Status:          r.JobStatus,
		ChannelID:       r.JobData.ChannelID,
		NumberKraus:     r.JobData.NumberKraus,
		InputDimension:  r.JobData.InputDimension,
		OutputDimension: r.JobData.OutputDimension,
	}
	if r.KrausID != nil {
		j.KrausFileID = *r.KrausID
	}
	if r.VectorID != nil {
		j.VectorFileID = *r.VectorID
	}
	return j
}
