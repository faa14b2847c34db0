package book

type CreateBookReq struct {
	Title string `json:"title" validate:"required"`
}
