package recipe

import "time"

// Status is the presentation state of a recipe. It never gates delivery.
type Status string

const (
	StatusCreating         Status = "creating"
	StatusPendingToApprove Status = "pending_to_approve"
	StatusApproved         Status = "approved"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreating, StatusPendingToApprove, StatusApproved:
		return true
	}
	return false
}

// Ingredient is one line of a recipe's ingredient list.
type Ingredient struct {
	Name     string `json:"name" yaml:"name"`
	Quantity string `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Unit     string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Payload is the body sent to POST /recipes and PUT /recipes/{id}.
type Payload struct {
	Name              string       `json:"name" yaml:"name"`
	Description       string       `json:"description,omitempty" yaml:"description,omitempty"`
	Ingredients       []Ingredient `json:"ingredients,omitempty" yaml:"ingredients,omitempty"`
	Steps             []string     `json:"steps,omitempty" yaml:"steps,omitempty"`
	PrincipalPictures []string     `json:"principalPictures,omitempty" yaml:"principalPictures,omitempty"`
	Category          []string     `json:"category,omitempty" yaml:"category,omitempty"`
	Duration          int          `json:"duration,omitempty" yaml:"duration,omitempty"` // minutes
	Difficulty        string       `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Servings          int          `json:"servings,omitempty" yaml:"servings,omitempty"`
	UserID            string       `json:"userId,omitempty" yaml:"userId,omitempty"`
}

// Mutation is a queued create-or-update request that the server has not
// confirmed yet.
type Mutation struct {
	// LocalID identifies the entry inside the queue. Assigned on enqueue.
	LocalID string `json:"localId" yaml:"localId,omitempty"`

	Payload `yaml:",inline"`

	// IsUpdate marks a mutation targeting an existing server recipe.
	IsUpdate bool `json:"isUpdate" yaml:"isUpdate,omitempty"`

	// OriginalRecipeID is the server id to update. Required when IsUpdate.
	OriginalRecipeID string `json:"originalRecipeId,omitempty" yaml:"originalRecipeId,omitempty"`

	Status Status `json:"status" yaml:"status,omitempty"`

	// Revision increases every time the entry is edited while queued.
	Revision int `json:"revision" yaml:"-"`

	// Attempts counts failed deliveries since the last edit.
	Attempts      int        `json:"attempts" yaml:"-"`
	LastError     string     `json:"lastError,omitempty" yaml:"-"`
	EnqueuedAt    time.Time  `json:"enqueuedAt" yaml:"-"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty" yaml:"-"`
}

// TargetsExisting reports whether delivery should call update-by-id
// rather than create. An update without an original id falls back to create.
func (m Mutation) TargetsExisting() bool {
	return m.IsUpdate && m.OriginalRecipeID != ""
}

// Rating is a single user's score on a confirmed recipe.
type Rating struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// Recipe is a server-confirmed recipe with a stable server-assigned id.
type Recipe struct {
	ID string `json:"_id"`
	Payload
	Status    Status    `json:"status,omitempty"`
	Ratings   []Rating  `json:"ratings"`
	CreatedAt time.Time `json:"createdAt"`
	Version   int       `json:"__v"`
}
