package episode

import (
	"errors"
	"strconv"
)

// episodeActiveError rejects a start while another episode is Collecting.
type episodeActiveError struct{ id int }

func (e episodeActiveError) Error() string {
	return "episode " + strconv.Itoa(e.id) + " is already collecting"
}

// IsEpisodeActive reports whether err rejected a start because an episode is Collecting.
func IsEpisodeActive(err error) bool {
	var e episodeActiveError
	return errors.As(err, &e)
}

// ErrNoActiveEpisode is returned when ending while nothing is Collecting.
var ErrNoActiveEpisode = errors.New("no active episode")

// ErrClosed is returned by operations on a closed manager.
var ErrClosed = errors.New("episode manager closed")
