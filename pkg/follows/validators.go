package follows

type FollowPayload struct {
	DID string `form:"did" json:"did" mod:"trim" validate:"required,max=2048,did"`
}
