package site

import (
	"fmt"
	"sort"
)

// Registry 是站点 ID 到 Profile 的显式映射，构造后只读，可以被多个请求并发使用。
type Registry struct {
	profiles map[string]*Profile
}

// NewRegistry 使用给定的 Profile 创建注册表，ID 重复时后者覆盖前者。
func NewRegistry(profiles ...*Profile) *Registry {
	r := &Registry{profiles: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		if p == nil || p.ID == "" {
			continue
		}
		r.profiles[p.ID] = p
	}
	return r
}

// Default 返回内置的全部站点。
func Default() *Registry {
	return NewRegistry(Amazon(), Hepsiburada(), Trendyol())
}

// Get 按 ID 查找。
func (r *Registry) Get(id string) (*Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Match 按 URL 的主机名查找。多个站点同时匹配时按 ID 字典序取第一个。
func (r *Registry) Match(rawURL string) (*Profile, bool) {
	for _, id := range r.IDs() {
		if p := r.profiles[id]; p.Match(rawURL) {
			return p, true
		}
	}
	return nil, false
}

// Resolve 返回处理 rawURL 的 Profile。
//
// id 为空时按 URL 自动识别；id 非空时要求 URL 也属于该站点。
//
// 参数:
//
//	id: 站点 ID，可以为空
//	rawURL: 种子商品 URL
//
// 返回值:
//
//	*Profile: 匹配的站点
//	error: 无法匹配时返回包装了 ErrUnsupportedSite 的错误
func (r *Registry) Resolve(id, rawURL string) (*Profile, error) {
	if id == "" {
		p, ok := r.Match(rawURL)
		if !ok {
			return nil, fmt.Errorf("no site matches %q: %w", rawURL, ErrUnsupportedSite)
		}
		return p, nil
	}
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("site %q: %w", id, ErrUnsupportedSite)
	}
	if !p.Match(rawURL) {
		return nil, fmt.Errorf("url %q does not belong to site %q: %w", rawURL, id, ErrUnsupportedSite)
	}
	return p, nil
}

// IDs 返回排序后的站点 ID。
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
