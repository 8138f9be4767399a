// Package tier maps subscription tiers to their daily quota limits.
package tier

const (
	Free  = "free"
	Pro   = "pro"
	Plus  = "plus"
	Admin = "admin"
)

// Unlimited disables the quota dimension it is set on.
const Unlimited = -1

// Limits describes the daily allowances of a tier.
type Limits struct {
	Tier       string `json:"tier"`
	ChatLimit  int64  `json:"chat_limit"`
	ImageLimit int64  `json:"image_limit"`
	NameZH     string `json:"name_zh"`
	NameEN     string `json:"name_en"`
}

var table = map[string]Limits{
	Free:  {Tier: Free, ChatLimit: 50, ImageLimit: 2, NameZH: "普通用户", NameEN: "Free User"},
	Pro:   {Tier: Pro, ChatLimit: 200, ImageLimit: 5, NameZH: "高级用户", NameEN: "Pro User"},
	Plus:  {Tier: Plus, ChatLimit: 500, ImageLimit: 10, NameZH: "超级用户", NameEN: "Plus User"},
	Admin: {Tier: Admin, ChatLimit: Unlimited, ImageLimit: Unlimited, NameZH: "管理员", NameEN: "Admin"},
}

// LimitsFor returns the limits for a tier. Unknown tiers fall back to free.
func LimitsFor(t string) Limits {
	if limits, ok := table[t]; ok {
		return limits
	}
	return table[Free]
}
