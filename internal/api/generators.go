package api

import (
	"net/http"

	"github.com/seantiz/kiln/internal/generator"
)

type generatorsResponse struct {
	Default    string              `json:"default"`
	Generators []generator.Profile `json:"generators"`
}

func (s *Server) handleListGenerators(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, generatorsResponse{
		Default:    s.engine.DefaultKind(),
		Generators: s.engine.Generators(),
	})
}
