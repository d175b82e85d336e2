package profiles

type GetProfileQuery struct {
	Actor  string `query:"actor" json:"actor" mod:"trim" validate:"required,max=256"`
	Limit  int    `query:"limit" json:"limit,omitempty" default:"100" validate:"min=1,max=500"`
	Offset int    `query:"offset" json:"offset,omitempty" validate:"min=0"`
}
