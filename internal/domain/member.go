package domain

import "time"

// Identity — тот, кто нажал кнопку. Роли берутся из payload взаимодействия
// на момент нажатия, поэтому изменения ролей действуют сразу.
type Identity struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	RoleIDs  []string `json:"role_ids"`
}

// HasRole проверяет членство в роли.
func (i Identity) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, r := range i.RoleIDs {
		if r == roleID {
			return true
		}
	}
	return false
}

// Member — участник сервера в том виде, в каком его отдает ростер.
type Member struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Mention   string    `json:"mention"`
	AvatarURL string    `json:"avatar_url"`
	RoleIDs   []string  `json:"role_ids"`
	JoinedAt  time.Time `json:"joined_at"`
}
