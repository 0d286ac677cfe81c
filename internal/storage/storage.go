package storage

import (
	"errors"

	"github.com/TheUltimateAbsol/technews/internal/models"
)

// ErrPostNotFound is returned by GetPost for an unknown post id
var ErrPostNotFound = errors.New("post not found")

// Storage defines the interface for post storage
type Storage interface {
	// IsProcessed checks if a post has already been processed
	IsProcessed(postID string) (bool, error)

	// SavePost saves a post and its comment forest to storage
	SavePost(post *models.Post) error

	// GetAllPosts retrieves all processed posts, newest first
	GetAllPosts() ([]*models.Post, error)

	// GetPost retrieves a single post by id
	GetPost(postID string) (*models.Post, error)

	// Close closes the storage connection
	Close() error
}
