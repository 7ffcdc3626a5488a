package pg

import "context"

func (s *Store) TenantIDByName(ctx context.Context, name string) (string, error) {
	return s.scalar(ctx, `select id from tenants where lower(name) = lower($1)`, name)
}

func (s *Store) TenantIDForCourse(ctx context.Context, courseID string) (string, error) {
	return s.scalar(ctx, `select tenant_id from courses where id = $1`, courseID)
}

func (s *Store) TenantIDForLiveClass(ctx context.Context, liveClassID string) (string, error) {
	return s.scalar(ctx, `select tenant_id from live_classes where id = $1`, liveClassID)
}

func (s *Store) TenantIDForLesson(ctx context.Context, lessonID string) (string, error) {
	return s.scalar(ctx, `
		select c.tenant_id
		from lessons l
		join modules m on m.id = l.module_id
		join courses c on c.id = m.course_id
		where l.id = $1
	`, lessonID)
}

func (s *Store) TenantIDForModule(ctx context.Context, moduleID string) (string, error) {
	return s.scalar(ctx, `
		select c.tenant_id
		from modules m
		join courses c on c.id = m.course_id
		where m.id = $1
	`, moduleID)
}
