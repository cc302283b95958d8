// Пакет rbac — роли пользователей WQT и правила доступа.
// Супервизор управляет записями, инспектор только просматривает.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleInspector  = "inspector"
	RoleSupervisor = "supervisor"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleInspector:  1,
	RoleSupervisor: 2,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную допустимую роль из набора.
// Недопустимые значения игнорируются. Пустой результат — роль не найдена.
func HighestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if !IsValidRole(r) {
			continue
		}
		highest = maxRole(highest, r)
	}
	return highest
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// CanRead — право просмотра списков и карточек записей.
func CanRead(role string) bool {
	return roleWeight[role] >= roleWeight[RoleInspector]
}

// CanWrite — право создания, изменения и удаления записей.
func CanWrite(role string) bool {
	return roleWeight[role] >= roleWeight[RoleSupervisor]
}
