package skills

// defaultSkills 内置的规范技能表
var defaultSkills = []CanonicalSkill{
	// 编程语言
	{Name: "javascript", Aliases: []string{"js", "ecmascript", "es6", "es2015"}},
	{Name: "typescript", Aliases: []string{"ts"}},
	{Name: "go", Aliases: []string{"golang", "go lang"}},
	{Name: "python", Aliases: []string{"py", "python3", "python 3"}},
	{Name: "java", Aliases: []string{"java se", "java 8", "java 17"}},
	{Name: "kotlin", Aliases: []string{"kt"}},
	{Name: "c", Aliases: []string{"ansi c", "c99"}},
	{Name: "c++", Aliases: []string{"cpp", "cplusplus", "c plus plus"}},
	{Name: "c#", Aliases: []string{"csharp", "c sharp"}},
	{Name: "ruby", Aliases: []string{"rb"}},
	{Name: "rust", Aliases: []string{"rustlang"}},
	{Name: "php", Aliases: []string{"php7", "php8"}},
	{Name: "swift", Aliases: []string{"swiftlang"}},
	{Name: "scala", Aliases: nil},
	{Name: "sql", Aliases: []string{"structured query language"}},
	{Name: "bash", Aliases: []string{"shell", "shell scripting", "sh"}},

	// 前端
	{Name: "react", Aliases: []string{"reactjs", "react.js", "react js"}},
	{Name: "react native", Aliases: []string{"reactnative"}},
	{Name: "vue", Aliases: []string{"vuejs", "vue.js", "vue js", "vue3"}},
	{Name: "angular", Aliases: []string{"angularjs", "angular.js", "angular2"}},
	{Name: "next.js", Aliases: []string{"nextjs", "next js"}},
	{Name: "html", Aliases: []string{"html5"}},
	{Name: "css", Aliases: []string{"css3"}},
	{Name: "tailwind css", Aliases: []string{"tailwind", "tailwindcss"}},

	// 后端框架
	{Name: "node.js", Aliases: []string{"node", "nodejs", "node js"}},
	{Name: "express", Aliases: []string{"expressjs", "express.js"}},
	{Name: "spring boot", Aliases: []string{"springboot", "spring-boot"}},
	{Name: "django", Aliases: nil},
	{Name: "flask", Aliases: nil},
	{Name: "fastapi", Aliases: []string{"fast api"}},
	{Name: "ruby on rails", Aliases: []string{"rails", "ror"}},
	{Name: ".net", Aliases: []string{"dotnet", "dot net", "asp.net", ".net core"}},
	{Name: "graphql", Aliases: []string{"gql"}},
	{Name: "grpc", Aliases: []string{"g rpc"}},

	// 数据存储
	{Name: "postgresql", Aliases: []string{"postgres", "psql", "pg"}},
	{Name: "mysql", Aliases: []string{"my sql"}},
	{Name: "mongodb", Aliases: []string{"mongo", "mongo db"}},
	{Name: "redis", Aliases: nil},
	{Name: "elasticsearch", Aliases: []string{"elastic search"}},
	{Name: "nosql", Aliases: []string{"no sql"}},
	{Name: "kafka", Aliases: []string{"apache kafka"}},
	{Name: "rabbitmq", Aliases: []string{"rabbit mq", "rabbit"}},

	// 云与基础设施
	{Name: "docker", Aliases: []string{"docker engine"}},
	{Name: "kubernetes", Aliases: []string{"k8s", "kube"}},
	{Name: "aws", Aliases: []string{"amazon web services"}},
	{Name: "gcp", Aliases: []string{"google cloud", "google cloud platform"}},
	{Name: "azure", Aliases: []string{"microsoft azure"}},
	{Name: "terraform", Aliases: []string{"tf"}},
	{Name: "linux", Aliases: []string{"gnu/linux"}},
	{Name: "git", Aliases: []string{"github", "gitlab"}},
	{Name: "ci/cd", Aliases: []string{"cicd", "ci cd", "ci"}},

	// 数据与 AI
	{Name: "machine learning", Aliases: []string{"ml"}},
	{Name: "deep learning", Aliases: []string{"dl"}},
	{Name: "pytorch", Aliases: []string{"torch"}},
	{Name: "tensorflow", Aliases: []string{"tf2"}},
	{Name: "pandas", Aliases: nil},
	{Name: "natural language processing", Aliases: []string{"nlp"}},
}

// defaultSynonymSets 内置同义词组。组内写法互相等价，但不合并为同一个规范名
var defaultSynonymSets = []SynonymSet{
	{"rest", "rest api", "restful", "restful api"},
	{"ci/cd", "continuous integration", "continuous delivery", "continuous deployment"},
	{"microservices", "microservice architecture", "service oriented architecture", "soa"},
	{"object oriented programming", "oop", "object-oriented design"},
	{"machine learning", "statistical learning"},
	{"unit testing", "tdd", "test driven development"},
	{"agile", "scrum", "kanban"},
	{"docker", "containerization"},
	{"kubernetes", "container orchestration"},
}
