package recs

import (
	"errors"
	"fmt"

	"altfinder/internal/site"
)

var (
	// ErrSeedNameMissing 表示种子页面的标题在所有策略下都无法解析。
	ErrSeedNameMissing = errors.New("seed name could not be resolved")

	// ErrUnsupportedSite 表示没有站点能处理给定 URL。
	ErrUnsupportedSite = site.ErrUnsupportedSite
)

// SeedError 是唯一会中止整个推荐流程的错误：种子商品不可读。
type SeedError struct {
	URL string
	Err error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("read seed %s: %v", e.URL, e.Err)
}

func (e *SeedError) Unwrap() error { return e.Err }

// IsSeedError reports whether err (or anything it wraps) is a *SeedError.
func IsSeedError(err error) bool {
	var se *SeedError
	return errors.As(err, &se)
}
