package billing

import (
	"context"

	"schedbill/internal/docstore"
)

// UserService is a thin CRUD layer over the user documents.
type UserService struct {
	docs docstore.Store
}

func NewUserService(docs docstore.Store) *UserService {
	return &UserService{docs: docs}
}

func (s *UserService) Find(ctx context.Context, id string) (docstore.User, error) {
	return s.docs.FindUser(ctx, id)
}

func (s *UserService) FindByEmail(ctx context.Context, address string) (docstore.User, error) {
	return s.docs.FindUserByEmail(ctx, address)
}

func (s *UserService) Create(ctx context.Context, u docstore.User) (docstore.User, error) {
	u.ID = ""
	if err := s.docs.SaveUser(ctx, &u); err != nil {
		return docstore.User{}, err
	}
	return u, nil
}

func (s *UserService) Update(ctx context.Context, u docstore.User) (docstore.User, error) {
	if _, err := s.docs.FindUser(ctx, u.ID); err != nil {
		return docstore.User{}, err
	}
	if err := s.docs.SaveUser(ctx, &u); err != nil {
		return docstore.User{}, err
	}
	return u, nil
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	return s.docs.DeleteUser(ctx, id)
}
