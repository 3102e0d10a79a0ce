package dto

// GetEventsRequest represents a processed event query
type GetEventsRequest struct {
	Topic string `form:"topic" binding:"max=255"`
	Limit int    `form:"limit,default=100" binding:"min=1,max=1000"`
}

// GetEventRequest addresses a single event by its dedup key
type GetEventRequest struct {
	Topic   string `uri:"topic" binding:"required,max=255"`
	EventID string `uri:"event_id" binding:"required,max=255"`
}
