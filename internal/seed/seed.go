// Package seed imports gallery definitions from YAML files.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"galleryaccess/internal/service"
	"galleryaccess/internal/timestamp"
)

type File struct {
	Galleries []Gallery `yaml:"galleries"`
}

type Gallery struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	// EventDate accepts a YAML date, epoch seconds, an ISO string or a
	// {seconds, nanoseconds} map.
	EventDate        any               `yaml:"eventDate"`
	Password         *string           `yaml:"password"`
	SecurityQuestion *SecurityQuestion `yaml:"securityQuestion"`
}

type SecurityQuestion struct {
	Type   string `yaml:"type"`
	Custom string `yaml:"custom"`
	Answer string `yaml:"answer"`
}

func Parse(r io.Reader) ([]service.NewGallery, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	out := make([]service.NewGallery, 0, len(f.Galleries))
	for i, g := range f.Galleries {
		ng := service.NewGallery{
			GalleryInput: service.GalleryInput{Code: g.Code, Name: g.Name},
			Access:       service.AccessUpdate{Password: g.Password},
		}
		if g.EventDate != nil {
			t, err := timestamp.Parse(g.EventDate)
			if err != nil {
				return nil, fmt.Errorf("gallery %d (%s) eventDate: %w", i, g.Code, err)
			}
			ng.EventDate = &t
		}
		if q := g.SecurityQuestion; q != nil {
			ng.Access.RequiresSecurityQuestion = true
			ng.Access.SecurityQuestionType = q.Type
			ng.Access.SecurityQuestionCustom = q.Custom
			ng.Access.SecurityAnswer = q.Answer
		}
		out = append(out, ng)
	}
	return out, nil
}

type Result struct {
	Code string
	ID   string
	Err  error
}

// Apply creates every gallery, continuing past individual failures.
func Apply(ctx context.Context, svc *service.Service, items []service.NewGallery) []Result {
	out := make([]Result, 0, len(items))
	for _, item := range items {
		g, err := svc.CreateGallery(ctx, item)
		res := Result{Code: item.Code, Err: err}
		if err == nil {
			res.Code, res.ID = g.Code, g.ID
		}
		out = append(out, res)
	}
	return out
}
