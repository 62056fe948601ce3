// Package student содержит реестр студентов VR-класса.
//
// Студент однозначно связан с гарнитурой через её сетевой адрес: события
// журнала маршрутизатора несут только адрес источника, а поднятая рука
// должна показываться по ID студента. Пакет определяет:
//
//   - Сущность Student и value object Address
//   - Интерфейс Resolver (адрес -> студент) для механизма поднятой руки
//   - Интерфейс Repository для загрузки реестра
//
// Реализации: infrastructure/persistence/postgres (таблица students) и
// кэширующая обёртка infrastructure/persistence/redis.
package student
