package schema

// Console API resources wrap their payload as {metadata: {guid}, entity: {...}};
// endpoints are plain records keyed by guid.
const resourceID = "metadata.guid"

// ConsoleSchemas returns the schemas of the built-in console entity types.
func ConsoleSchemas() []Schema {
	return []Schema{
		{
			EntityType:  Endpoint,
			Collection:  "endpoints",
			IDAttribute: "guid",
		},
		{
			EntityType:  Organization,
			Collection:  "organizations",
			IDAttribute: resourceID,
			Children: []Child{
				{Field: "entity.spaces", EntityType: Space, IsArray: true},
				{Field: "entity.users", EntityType: User, IsArray: true},
			},
		},
		{
			EntityType:  Space,
			Collection:  "spaces",
			IDAttribute: resourceID,
			Children: []Child{
				{Field: "entity.organization", EntityType: Organization},
				{Field: "entity.apps", EntityType: Application, IsArray: true},
				{Field: "entity.service_instances", EntityType: ServiceInstance, IsArray: true},
			},
		},
		{
			EntityType:  Application,
			Collection:  "apps",
			IDAttribute: resourceID,
			Children: []Child{
				{Field: "entity.space", EntityType: Space},
			},
		},
		{
			EntityType:  User,
			Collection:  "users",
			IDAttribute: resourceID,
		},
		{
			EntityType:  ServiceInstance,
			Collection:  "service_instances",
			IDAttribute: resourceID,
			Children: []Child{
				{Field: "entity.space", EntityType: Space},
			},
		},
	}
}

// NewConsoleRegistry returns a frozen registry of the console schemas.
func NewConsoleRegistry() *Registry {
	r := NewRegistry().MustRegister(ConsoleSchemas()...)
	r.Freeze()
	return r
}
