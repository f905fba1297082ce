package models

// Clock is the header clock.
type Clock struct {
	Time     string `json:"time"`
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
}

// Weather holds the current temperature and today's range, in whole
// degrees Celsius.
type Weather struct {
	Now  int `json:"now"`
	High int `json:"high"`
	Low  int `json:"low"`
}

// TransitKind distinguishes the two TTC endpoint families.
type TransitKind string

const (
	TransitBus    TransitKind = "bus"
	TransitSubway TransitKind = "subway"
)

// TargetArrivals lists upcoming departures for one stop and direction.
// Error is set when this stop could not be fetched; other stops in the
// same cycle are unaffected.
type TargetArrivals struct {
	ID             string      `json:"id"`
	Kind           TransitKind `json:"kind"`
	Route          string      `json:"route"`
	RouteLabel     string      `json:"route_label,omitempty"`
	DirectionLabel string      `json:"direction_label"`
	Times          []string    `json:"times"`
	Error          string      `json:"error,omitempty"`
}

// Arrivals is the transit widget payload.
type Arrivals struct {
	Lines []TargetArrivals `json:"lines"`
}

// NowPlaying is the currently active media track.
type NowPlaying struct {
	IsPlaying     bool    `json:"is_playing"`
	Title         string  `json:"title"`
	Artist        string  `json:"artist"`
	Album         string  `json:"album"`
	AlbumImageURL string  `json:"album_image_url,omitempty"`
	ProgressMs    int64   `json:"progress_ms"`
	DurationMs    int64   `json:"duration_ms"`
	Progress      float64 `json:"progress"`
	URL           string  `json:"url,omitempty"`
}

// Task is one open item from a task list.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Due   string `json:"due,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// TaskList is the tasks widget payload.
type TaskList struct {
	Tasks []Task `json:"tasks"`
}
