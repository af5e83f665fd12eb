package model

// JobStatus 任务结果状态。
type JobStatus string

const (
	JobStatusDone   JobStatus = "done"
	JobStatusFailed JobStatus = "failed"
)

// 任务失败时的错误码，API 层据此映射 HTTP 状态码。
const (
	ErrorCodeSeed        = "seed_unreadable"
	ErrorCodeUnsupported = "unsupported_site"
	ErrorCodeTimeout     = "timeout"
	ErrorCodeInternal    = "internal"
)

// JobKind 任务类型。
type JobKind string

const (
	JobKindRecommend JobKind = "recommend" // 完整推荐流程，默认值
	JobKindSeed      JobKind = "seed"      // 只读取种子商品
)

// RecommendationJob 是 API 投递给爬虫 Worker 的推荐任务。
type RecommendationJob struct {
	JobID     string  `json:"job_id"`
	Kind      JobKind `json:"kind,omitempty"`
	Site      string `json:"site"`
	URL       string `json:"url"`
	Limit     int    `json:"limit"`
	DedupKey  string `json:"dedup_key,omitempty"` // 合并重复请求用的 key，任务结束后释放
	CreatedAt int64  `json:"created_at"`
}

// JobResult 是 Worker 回传的任务结果。
type JobResult struct {
	JobID      string                `json:"job_id"`
	Status     JobStatus             `json:"status"`
	ErrorCode  string                `json:"error_code,omitempty"`
	Error      string                `json:"error,omitempty"`
	Result     *RecommendationResult `json:"result,omitempty"`
	Seed       *Product              `json:"seed,omitempty"` // 仅 JobKindSeed
	FinishedAt int64                 `json:"finished_at"`
}
