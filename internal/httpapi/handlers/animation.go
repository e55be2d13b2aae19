package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/animation-platform/internal/animation"
	"github.com/suPer8Hu/animation-platform/internal/common"
	"github.com/suPer8Hu/animation-platform/internal/jobstore"
)

func videoURL(jobID string, videoName *string) string {
	if videoName == nil || *videoName == "" {
		return ""
	}
	return "/video-by-job/" + jobID
}

type createResp struct {
	*animation.Result
	VideoURL string `json:"video_url,omitempty"`
}

func (h *Handler) CreateAnimation(c *gin.Context) {
	var req animation.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid json")
		return
	}

	res, err := h.Svc.Create(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, res)
		return
	}
	out := createResp{Result: res}
	if res.Cached {
		out.VideoURL = videoURL(res.JobID, res.VideoName)
	}
	common.OK(c, out)
}

type jobStatusResp struct {
	JobID     string          `json:"job_id"`
	Status    jobstore.Status `json:"status"`
	Message   string          `json:"message"`
	Error     *string         `json:"error"`
	Script    *string         `json:"script,omitempty"`
	VideoName *string         `json:"video_name"`
	VideoURL  string          `json:"video_url,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	// Source is job_store, or cache_index once the job record has expired.
	Source string `json:"source"`
}

func (h *Handler) JobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	job, fromCache, err := h.Svc.Status(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	source := "job_store"
	if fromCache {
		source = "cache_index"
	}
	common.OK(c, jobStatusResp{
		JobID:     job.ID,
		Status:    job.Status,
		Message:   job.Message,
		Error:     job.Error,
		Script:    job.Script,
		VideoName: job.VideoName,
		VideoURL:  videoURL(job.ID, job.VideoName),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Source:    source,
	})
}

func (h *Handler) RetryJob(c *gin.Context) {
	res, err := h.Svc.Retry(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err, res)
		return
	}
	common.OK(c, res)
}

func (h *Handler) VideoByJob(c *gin.Context) {
	h.serveVideo(c, false)
}

func (h *Handler) DownloadVideo(c *gin.Context) {
	h.serveVideo(c, true)
}

func (h *Handler) serveVideo(c *gin.Context, attachment bool) {
	vf, err := h.Svc.Video(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.Header("Content-Type", vf.ContentType)
	if attachment {
		c.FileAttachment(vf.Path, vf.Name)
		return
	}
	c.File(vf.Path)
}

type checkCacheReq struct {
	Level     int `json:"level" form:"level"`
	SubjectID int `json:"subject_id" form:"subject_id"`
	ChapterID int `json:"chapter_id" form:"chapter_id"`
	TopicID   int `json:"topic_id" form:"topic_id"`
}

type checkCacheResp struct {
	Cached    bool            `json:"cached"`
	JobID     string          `json:"job_id,omitempty"`
	Status    jobstore.Status `json:"status,omitempty"`
	VideoName *string         `json:"video_name,omitempty"`
	VideoURL  string          `json:"video_url,omitempty"`
}

// CheckCache accepts the identity tuple as query parameters (GET) or a JSON body (POST).
func (h *Handler) CheckCache(c *gin.Context) {
	var req checkCacheReq
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "level, subject_id, chapter_id and topic_id must be integers")
		return
	}

	hit, err := h.Svc.CheckCache(c.Request.Context(), req.Level, req.SubjectID, req.ChapterID, req.TopicID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	if hit == nil {
		common.OK(c, checkCacheResp{Cached: false})
		return
	}
	common.OK(c, checkCacheResp{
		Cached:    true,
		JobID:     hit.JobID,
		Status:    hit.Status,
		VideoName: hit.VideoName,
		VideoURL:  videoURL(hit.JobID, hit.VideoName),
	})
}

type jobListItem struct {
	JobID     string          `json:"job_id"`
	Status    jobstore.Status `json:"status"`
	Topic     string          `json:"topic"`
	Level     int             `json:"level"`
	CreatedAt time.Time       `json:"created_at"`
	VideoName *string         `json:"video_name"`
}

func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.Svc.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	items := make([]jobListItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, jobListItem{
			JobID:     j.ID,
			Status:    j.Status,
			Topic:     j.Topic,
			Level:     j.Level,
			CreatedAt: j.CreatedAt,
			VideoName: j.VideoName,
		})
	}
	common.OK(c, gin.H{"count": len(items), "jobs": items})
}

const defaultCachedLimit = 100

func (h *Handler) ListCachedAnimations(c *gin.Context) {
	limit := defaultCachedLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			common.Fail(c, http.StatusBadRequest, 40001, "limit must be a positive integer")
			return
		}
		limit = n
	}
	rows, err := h.Svc.ListCached(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	common.OK(c, gin.H{"count": len(rows), "animations": rows})
}
