package api

import "net/http"

func NewRouter(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /checkout/{checkoutID}/state", handler.PutState)
	mux.HandleFunc("GET /checkout/{checkoutID}", handler.GetCheckout)
	mux.HandleFunc("POST /checkout/{checkoutID}/mint", handler.Mint)
	mux.HandleFunc("POST /checkout/{checkoutID}/complete", handler.Complete)

	return mux
}
