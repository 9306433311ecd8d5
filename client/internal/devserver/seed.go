package devserver

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Seed 开发后端的初始数据。
type Seed struct {
	Users   []SeedUser   `json:"users"`
	Reviews []SeedReview `json:"reviews"`
	// Follows 关注关系：[follower, followee]
	Follows [][2]int64 `json:"follows"`
	// ToRead 用户 id → 待读书目
	ToRead map[int64][]SeedBook `json:"toRead"`
}

type SeedUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    string `json:"avatar"`
	IsPrivate bool   `json:"isPrivate"`
}

type SeedBook struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Thumbnail string   `json:"thumbnail"`
}

type SeedReview struct {
	ID       int64     `json:"id"`
	AuthorID int64     `json:"authorId"`
	Book     SeedBook  `json:"book"`
	Content  string    `json:"content"`
	Rating   float64   `json:"rating"`
	LikedBy  []int64   `json:"likedBy"`
	Created  time.Time `json:"createdAt"`
}

// LoadSeed 从指定路径加载初始数据；path 为空时返回内置数据。
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		return DefaultSeed(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, errors.Wrap(err, "read seed")
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return Seed{}, errors.Wrap(err, "parse seed")
	}
	return seed, nil
}

// DefaultSeed 三个公开用户与一个私密用户，1 关注 2、3。
func DefaultSeed() Seed {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	dune := SeedBook{ID: "B1MVAAAACAAJ", Title: "Dune", Authors: []string{"Frank Herbert"}}
	hail := SeedBook{ID: "xYK6EAAAQBAJ", Title: "Project Hail Mary", Authors: []string{"Andy Weir"}}
	piranesi := SeedBook{ID: "uaZbEAAAQBAJ", Title: "Piranesi", Authors: []string{"Susanna Clarke"}}

	return Seed{
		Users: []SeedUser{
			{ID: 1, Username: "ada", FirstName: "Ada", LastName: "Lovelace"},
			{ID: 2, Username: "grace", FirstName: "Grace", LastName: "Hopper"},
			{ID: 3, Username: "alan", FirstName: "Alan", LastName: "Turing"},
			{ID: 4, Username: "hedy", FirstName: "Hedy", LastName: "Lamarr", IsPrivate: true},
		},
		Reviews: []SeedReview{
			{ID: 1, AuthorID: 2, Book: dune, Content: "Spice, sand and politics.", Rating: 4.5, LikedBy: []int64{3}, Created: base},
			{ID: 2, AuthorID: 3, Book: hail, Content: "Science as a page-turner.", Rating: 5, Created: base.Add(time.Hour)},
			{ID: 3, AuthorID: 2, Book: piranesi, Content: "A house of endless halls.", Rating: 4, Created: base.Add(2 * time.Hour)},
			{ID: 4, AuthorID: 4, Book: dune, Content: "Reread for the third time.", Rating: 3.5, Created: base.Add(3 * time.Hour)},
			{ID: 5, AuthorID: 1, Book: hail, Content: "Rocky is the best.", Rating: 5, Created: base.Add(4 * time.Hour)},
		},
		Follows: [][2]int64{{1, 2}, {1, 3}, {2, 1}},
		ToRead: map[int64][]SeedBook{
			1: {piranesi},
		},
	}
}
