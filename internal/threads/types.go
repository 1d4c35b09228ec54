package threads

import "encoding/json"

// Post is the latest post fetched for an account, carrying the display
// fields downstream delivery needs.
type Post struct {
	UserID    string `json:"userId"`
	PostID    string `json:"postId"`
	Username  string `json:"username"`
	Content   string `json:"content,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	PostURL   string `json:"postUrl"`
}

// Profile is a Threads user profile.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Verified  bool   `json:"verified"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Private   bool   `json:"private"`
	Bio       string `json:"bio,omitempty"`
}

// Lookup is the result of resolving a username. Profile is populated only
// when the caller asked for the full profile.
type Lookup struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Profile  *Profile `json:"profile,omitempty"`
}

// userInfoResponse mirrors the usernameinfo / info endpoints.
type userInfoResponse struct {
	User struct {
		PK            json.Number `json:"pk"`
		Username      string      `json:"username"`
		ProfilePicURL string      `json:"profile_pic_url"`
		IsVerified    bool        `json:"is_verified"`
		IsPrivate     bool        `json:"is_private"`
		Biography     string      `json:"biography"`
	} `json:"user"`
}

// feedResponse mirrors the user threads feed endpoint. Only the first
// thread's first item matters for change detection.
type feedResponse struct {
	Threads []struct {
		ID          string `json:"id"`
		ThreadItems []struct {
			Post struct {
				Code    string `json:"code"`
				Caption struct {
					Text string `json:"text"`
				} `json:"caption"`
				User struct {
					Username      string `json:"username"`
					ProfilePicURL string `json:"profile_pic_url"`
				} `json:"user"`
				ImageVersions struct {
					Candidates []struct {
						URL string `json:"url"`
					} `json:"candidates"`
				} `json:"image_versions2"`
			} `json:"post"`
		} `json:"thread_items"`
	} `json:"threads"`
}
