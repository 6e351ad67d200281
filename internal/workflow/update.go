package workflow

import "time"

// Update 是节点返回的部分更新：指针为 nil / 集合为 nil 表示不修改该字段。
type Update struct {
	Subject        *string
	Body           *string
	Images         []string
	RequesterEmail *string
	RequesterName  *string
	Tags           []string
	Type           *string
	Priority       *int
	CreatedAt      *time.Time
	UpdatedAt      *time.Time

	RanVision        bool
	RanTextRetrieval bool
	RanPastTickets   bool

	HasImage *bool
	HasText  *bool
	Category *string

	CustomerType     *CustomerType
	CustomerMetadata map[string]string
	PolicyRules      map[string]any

	ImageHits      []Hit
	TextHits       []Hit
	PastTicketHits []Hit
	Context        *string

	ProductMatchConfidence *float64
	HallucinationRisk      *float64
	EnoughInformation      *bool
	VIPCompliant           *bool
	DetectedProductID      *string

	Draft          *string
	PublicReply    *string
	Status         *Status
	ExtraTags      []string
	FinalTags      []string
	NoteType       *string
	DeliveryFailed bool
}

func ptr[T any](v T) *T { return &v }

// Merge 将部分更新合并到状态上，返回新的状态；入参 st 不会被修改。
//
// 集合字段总是复制后写入，粘性标记与 DeliveryFailed 只能由 false 变为 true。
func Merge(st State, up Update) State {
	next := st.clone()

	if up.Subject != nil {
		next.Subject = *up.Subject
	}
	if up.Body != nil {
		next.Body = *up.Body
	}
	if up.Images != nil {
		next.Images = cloneSlice(up.Images)
	}
	if up.RequesterEmail != nil {
		next.RequesterEmail = *up.RequesterEmail
	}
	if up.RequesterName != nil {
		next.RequesterName = *up.RequesterName
	}
	if up.Tags != nil {
		next.Tags = cloneSlice(up.Tags)
	}
	if up.Type != nil {
		next.Type = *up.Type
	}
	if up.Priority != nil {
		next.Priority = *up.Priority
	}
	if up.CreatedAt != nil {
		next.CreatedAt = *up.CreatedAt
	}
	if up.UpdatedAt != nil {
		next.UpdatedAt = *up.UpdatedAt
	}

	next.RanVision = next.RanVision || up.RanVision
	next.RanTextRetrieval = next.RanTextRetrieval || up.RanTextRetrieval
	next.RanPastTickets = next.RanPastTickets || up.RanPastTickets

	if up.HasImage != nil {
		next.HasImage = *up.HasImage
	}
	if up.HasText != nil {
		next.HasText = *up.HasText
	}
	if up.Category != nil {
		next.Category = *up.Category
	}

	if up.CustomerType != nil {
		next.CustomerType = *up.CustomerType
	}
	if up.CustomerMetadata != nil {
		next.CustomerMetadata = cloneMap(up.CustomerMetadata)
	}
	if up.PolicyRules != nil {
		next.PolicyRules = cloneMap(up.PolicyRules)
	}

	if up.ImageHits != nil {
		next.ImageHits = cloneSlice(up.ImageHits)
	}
	if up.TextHits != nil {
		next.TextHits = cloneSlice(up.TextHits)
	}
	if up.PastTicketHits != nil {
		next.PastTicketHits = cloneSlice(up.PastTicketHits)
	}
	if up.Context != nil {
		next.Context = *up.Context
	}

	if up.ProductMatchConfidence != nil {
		next.ProductMatchConfidence = *up.ProductMatchConfidence
	}
	if up.HallucinationRisk != nil {
		next.HallucinationRisk = *up.HallucinationRisk
	}
	if up.EnoughInformation != nil {
		next.EnoughInformation = *up.EnoughInformation
	}
	if up.VIPCompliant != nil {
		next.VIPCompliant = *up.VIPCompliant
	}
	if up.DetectedProductID != nil {
		next.DetectedProductID = *up.DetectedProductID
	}

	if up.Draft != nil {
		next.Draft = *up.Draft
	}
	if up.PublicReply != nil {
		next.PublicReply = *up.PublicReply
	}
	if up.Status != nil {
		next.Status = *up.Status
	}
	if up.ExtraTags != nil {
		next.ExtraTags = cloneSlice(up.ExtraTags)
	}
	if up.FinalTags != nil {
		next.FinalTags = cloneSlice(up.FinalTags)
	}
	if up.NoteType != nil {
		next.NoteType = *up.NoteType
	}
	next.DeliveryFailed = next.DeliveryFailed || up.DeliveryFailed

	return next
}

// clone 复制所有集合字段，避免新旧状态共享底层数组
func (s State) clone() State {
	out := s
	out.Images = cloneSlice(s.Images)
	out.Tags = cloneSlice(s.Tags)
	out.CustomerMetadata = cloneMap(s.CustomerMetadata)
	out.PolicyRules = cloneMap(s.PolicyRules)
	out.ImageHits = cloneSlice(s.ImageHits)
	out.TextHits = cloneSlice(s.TextHits)
	out.PastTicketHits = cloneSlice(s.PastTicketHits)
	out.ExtraTags = cloneSlice(s.ExtraTags)
	out.FinalTags = cloneSlice(s.FinalTags)
	out.Visits = cloneMap(s.Visits)
	out.Events = cloneSlice(s.Events)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return nil
	}
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
