package books

type SearchBooksQuery struct {
	Q      string `query:"q" json:"q" mod:"trim" validate:"required,max=200"`
	Limit  int    `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=25"`
	Offset int    `query:"offset" json:"offset,omitempty" validate:"min=0,max=1000"`
}

type GetBookQuery struct {
	ID string `query:"id" json:"id" mod:"trim" validate:"required,max=64"`
}

type GetBookIdentifiersQuery struct {
	HiveID      string `query:"hiveId" json:"hiveId,omitempty" mod:"trim" validate:"omitempty,hiveid"`
	ISBN        string `query:"isbn" json:"isbn,omitempty" mod:"trim" validate:"omitempty,max=32"`
	ISBN13      string `query:"isbn13" json:"isbn13,omitempty" mod:"trim" validate:"omitempty,max=32"`
	GoodreadsID string `query:"goodreadsId" json:"goodreadsId,omitempty" mod:"trim" validate:"omitempty,max=64"`
}
